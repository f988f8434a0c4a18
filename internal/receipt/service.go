package receipt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/zombor/paragon/internal/scanning"
)

// DefaultListLimit is used when a listing does not ask for a page size
const DefaultListLimit = 50

// Image variants
const (
	VariantOriginal = "original"
	VariantFixed    = "fixed"
)

// Extractor turns a normalized JPEG into a reconciled receipt
type Extractor interface {
	Reconcile(ctx context.Context, image []byte, promptVersion string) (*scanning.Outcome, error)
	ModelName() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config holds the service settings
type Config struct {
	PromptVersion string
	MinImageSide  int
}

// Service handles receipt operations
type Service struct {
	storage    Storage
	cache      Cache
	ledger     Ledger
	extractor  Extractor
	normalizer *scanning.Normalizer
	cfg        Config
	timeSource TimeSource
}

// NewService creates a new Service with the default time source
func NewService(storage Storage, cache Cache, ledger Ledger, extractor Extractor, detector scanning.Detector, cfg Config) *Service {
	return NewServiceWithDeps(storage, cache, ledger, extractor, detector, cfg, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with a custom time source for testing
func NewServiceWithDeps(storage Storage, cache Cache, ledger Ledger, extractor Extractor, detector scanning.Detector, cfg Config, timeSrc TimeSource) *Service {
	if cfg.PromptVersion == "" {
		cfg.PromptVersion = scanning.DefaultPromptVersion
	}
	if cfg.MinImageSide <= 0 {
		cfg.MinImageSide = scanning.DefaultMinImageSide
	}
	return &Service{
		storage:    storage,
		cache:      cache,
		ledger:     ledger,
		extractor:  extractor,
		normalizer: scanning.NewNormalizer(detector),
		cfg:        cfg,
		timeSource: timeSrc,
	}
}

// Upload validates an image, extracts its receipt and stores every artifact.
// Identical bytes that were already extracted are served from the cache.
func (s *Service) Upload(ctx context.Context, filename string, data []byte, contentType, promptVersion string) (*UploadResult, error) {
	if promptVersion == "" {
		promptVersion = s.cfg.PromptVersion
	}
	if _, err := scanning.Prompt(promptVersion); err != nil {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	img, err := scanning.DecodeUpload(data, filename, contentType, s.cfg.MinImageSide)
	if err != nil {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	hash := scanning.ContentHash(data)
	log := slog.With("hash", hash, "filename", filename)

	if cached, err := s.cache.GetExtraction(hash); err == nil && cached.PromptVersion == promptVersion {
		log.Info("Serving cached extraction")
		uploadsTotal.WithLabelValues("cached").Inc()
		cached.Cached = true
		return cached, nil
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		log.Warn("Reading extraction cache failed", "error", err)
	}

	fixed, rotation := s.normalizer.Normalize(ctx, data, img)

	original, err := scanning.EncodeJPEG(img)
	if err != nil {
		return nil, fmt.Errorf("encoding original image: %w", err)
	}
	fixedJPEG := original
	if rotation != 0 {
		if fixedJPEG, err = scanning.EncodeJPEG(fixed); err != nil {
			return nil, fmt.Errorf("encoding normalized image: %w", err)
		}
	}

	outcome, err := s.extractor.Reconcile(ctx, fixedJPEG, promptVersion)
	if err != nil {
		return nil, fmt.Errorf("extracting receipt: %w", err)
	}

	meta, err := s.storage.Put(Artifacts{
		Date:          outcome.Receipt.Date,
		Hash:          hash,
		Original:      original,
		Fixed:         fixedJPEG,
		RawText:       rawText(outcome, hash),
		PromptVersion: outcome.PromptVersion,
		CreatedAt:     s.timeSource.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("storing receipt files: %w", err)
	}

	result := newUploadResult(hash, rotation, outcome, meta)
	if !outcome.Accepted {
		uploadsTotal.WithLabelValues("fallback").Inc()
		log.Warn("Receipt stored without extraction", "attempts", outcome.Attempts)
		return result, nil
	}

	uploadsTotal.WithLabelValues("extracted").Inc()
	if err := s.cache.PutExtraction(result); err != nil {
		log.Warn("Caching extraction failed", "error", err)
	}
	log.Info("Receipt extracted",
		"company", result.CheckCompany,
		"total", result.CheckTotal,
		"attempts", result.Attempts,
		"rotation", rotation,
	)
	return result, nil
}

// rawText appends the audit trailer to the model output
func rawText(outcome *scanning.Outcome, hash string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(outcome.Raw))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "| LLM MODEL | %s |\n", outcome.Model)
	fmt.Fprintf(&b, "| TOKENS IN | %d |\n", outcome.TokensIn)
	fmt.Fprintf(&b, "| TOKENS OUT | %d |\n", outcome.TokensOut)
	fmt.Fprintf(&b, "| HASH | %s |\n", hash)
	fmt.Fprintf(&b, "| PROMPT VERSION | %s |\n", outcome.PromptVersion)
	return b.String()
}

// GetReceipt retrieves the metadata of a stored image
func (s *Service) GetReceipt(hash string) (*Metadata, error) {
	meta, err := s.storage.Get(hash)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return meta, nil
}

// ListReceipts returns a page of stored images, newest first
func (s *Service) ListReceipts(limit, offset int) ([]*Metadata, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	receipts, err := s.storage.List(limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// GetImage returns the original or the normalized JPEG
func (s *Service) GetImage(hash, variant string) ([]byte, error) {
	meta, err := s.GetReceipt(hash)
	if err != nil {
		return nil, err
	}

	var path string
	switch variant {
	case "", VariantOriginal:
		path = meta.Files.Original
	case VariantFixed:
		path = meta.Files.Fixed
	default:
		return nil, &scanning.InputError{Reason: fmt.Sprintf("unknown image variant %q", variant)}
	}

	data, err := s.storage.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return data, nil
}

// GetOCRText returns the raw extraction text with its trailer
func (s *Service) GetOCRText(hash string) (string, error) {
	meta, err := s.GetReceipt(hash)
	if err != nil {
		return "", err
	}
	data, err := s.storage.Read(meta.Files.OCR)
	if err != nil {
		return "", fmt.Errorf("reading extraction text: %w", err)
	}
	return string(data), nil
}

// SaveReceipt confirms a (possibly edited) receipt and mirrors it into the ledger
func (s *Service) SaveReceipt(ctx context.Context, hash string, r *scanning.Receipt) (*SaveResult, error) {
	if r == nil {
		return nil, &scanning.InputError{Reason: "receipt is required"}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.IsSentinel() {
		return nil, ErrNotExtracted
	}

	meta, err := s.GetReceipt(hash)
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now().UTC()
	var files []FileRecord
	for _, path := range []string{meta.Files.Original, meta.Files.Fixed, meta.Files.OCR} {
		if path == "" {
			continue
		}
		files = append(files, FileRecord{
			Hash:       hash,
			FileName:   filepath.Base(path),
			FilePath:   path,
			UploadedAt: now,
		})
	}

	id, err := s.ledger.SaveReceipt(ctx, r, files)
	if err != nil {
		return nil, fmt.Errorf("saving receipt %s: %w", r.ReceiptNumber, err)
	}

	slog.Info("Receipt saved", "hash", hash, "receipt_number", r.ReceiptNumber, "receipt_id", id)
	return &SaveResult{ReceiptID: id, Hash: hash, Message: "Data has been successfully saved."}, nil
}

// Export writes the spreadsheet of all saved receipts
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	rows, err := s.ledger.ExportRows(ctx)
	if err != nil {
		return fmt.Errorf("loading export rows: %w", err)
	}
	return WriteWorkbook(w, rows)
}
