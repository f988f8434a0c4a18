package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const metadataFile = "metadata.json"

var (
	hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Storage defines the interface for the receipt artifact store
type Storage interface {
	// Put writes the artifacts under {root}/{date}/{hash}/ and returns their metadata
	Put(a Artifacts) (*Metadata, error)

	// Get returns the metadata of a stored image, repairing it when missing or corrupt
	Get(hash string) (*Metadata, error)

	// List returns metadata ordered by creation time, newest first
	List(limit, offset int) ([]*Metadata, error)

	// Read returns a stored file by its path relative to the store root
	Read(path string) ([]byte, error)
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

func originalName(hash string) string { return hash + ".jpg" }

func fixedName(hash string) string { return hash + "_fixed.jpg" }

func ocrName(hash, version string) string { return fmt.Sprintf("%s_ocr_%s.txt", hash, version) }

// Put saves the artifacts of one image. Writing the same artifacts twice
// leaves the store as a single write would, including the creation time.
func (l *LocalStorage) Put(a Artifacts) (*Metadata, error) {
	if !hashPattern.MatchString(a.Hash) {
		return nil, fmt.Errorf("invalid content hash %q", a.Hash)
	}
	if !datePattern.MatchString(a.Date) {
		return nil, fmt.Errorf("invalid receipt date %q", a.Date)
	}

	rel := filepath.Join(a.Date, a.Hash)
	dir := filepath.Join(l.basePath, rel)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating receipt directory: %w", err)
	}

	meta := &Metadata{
		Hash:          a.Hash,
		Date:          a.Date,
		PromptVersion: a.PromptVersion,
		CreatedAt:     a.CreatedAt.UTC(),
		Path:          rel,
		Files: Files{
			Original: filepath.Join(rel, originalName(a.Hash)),
			Fixed:    filepath.Join(rel, fixedName(a.Hash)),
			OCR:      filepath.Join(rel, ocrName(a.Hash, a.PromptVersion)),
		},
	}
	if prev, err := readMetadata(dir); err == nil && prev.Hash == a.Hash {
		meta.CreatedAt = prev.CreatedAt
	}

	writes := []struct {
		name string
		data []byte
	}{
		{originalName(a.Hash), a.Original},
		{fixedName(a.Hash), a.Fixed},
		{ocrName(a.Hash, a.PromptVersion), []byte(a.RawText)},
	}
	for _, w := range writes {
		if err := writeFileAtomic(filepath.Join(dir, w.name), w.data); err != nil {
			return nil, fmt.Errorf("writing %s: %w", w.name, err)
		}
	}

	if err := writeMetadata(dir, meta); err != nil {
		return nil, err
	}
	l.removeStale(a.Hash, dir)
	return meta, nil
}

// removeStale deletes directories of the same hash under other dates, left
// by an earlier run that read a different receipt date
func (l *LocalStorage) removeStale(hash, keep string) {
	matches, err := filepath.Glob(filepath.Join(l.basePath, "*", hash))
	if err != nil {
		return
	}
	for _, dir := range matches {
		if dir == keep {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to remove stale receipt directory", "hash", hash, "path", dir, "error", err)
		}
	}
}

// Get finds the directory of a hash under any date and loads its metadata.
// When several dates hold the hash, the newest record wins.
func (l *LocalStorage) Get(hash string) (*Metadata, error) {
	if !hashPattern.MatchString(hash) {
		return nil, ErrNotFound
	}

	matches, err := filepath.Glob(filepath.Join(l.basePath, "*", hash))
	if err != nil {
		return nil, fmt.Errorf("searching for receipt: %w", err)
	}
	var found *Metadata
	for _, dir := range matches {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if meta := l.load(dir); found == nil || newer(meta, found) {
			found = meta
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// newer orders two records of one hash by creation time, then by date
func newer(a, b *Metadata) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Date > b.Date
}

// List scans every {date}/{hash} directory
func (l *LocalStorage) List(limit, offset int) ([]*Metadata, error) {
	dirs, err := filepath.Glob(filepath.Join(l.basePath, "*", "*"))
	if err != nil {
		return nil, fmt.Errorf("scanning store: %w", err)
	}

	byHash := make(map[string]*Metadata, len(dirs))
	for _, dir := range dirs {
		if !hashPattern.MatchString(filepath.Base(dir)) {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		meta := l.load(dir)
		if prev, ok := byHash[meta.Hash]; !ok || newer(meta, prev) {
			byHash[meta.Hash] = meta
		}
	}

	all := make([]*Metadata, 0, len(byHash))
	for _, meta := range byHash {
		all = append(all, meta)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Hash < all[j].Hash
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []*Metadata{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Read retrieves a file from local storage
func (l *LocalStorage) Read(path string) ([]byte, error) {
	if path == "" || !filepath.IsLocal(path) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(l.basePath, path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// load reads the metadata of a receipt directory, rebuilding it from the
// directory contents when the record is missing or unreadable
func (l *LocalStorage) load(dir string) *Metadata {
	meta, err := readMetadata(dir)
	if err == nil {
		return meta
	}

	meta = l.rebuild(dir)
	slog.Warn("Rebuilt receipt metadata",
		"hash", meta.Hash,
		"prompt_version", meta.PromptVersion,
		"reason", err,
	)
	if err := writeMetadata(dir, meta); err != nil {
		slog.Warn("Failed to persist rebuilt metadata", "hash", meta.Hash, "error", err)
	}
	return meta
}

func (l *LocalStorage) rebuild(dir string) *Metadata {
	hash := filepath.Base(dir)
	date := filepath.Base(filepath.Dir(dir))
	rel, err := filepath.Rel(l.basePath, dir)
	if err != nil {
		rel = filepath.Join(date, hash)
	}

	meta := &Metadata{
		Hash: hash,
		Date: date,
		Path: rel,
		Files: Files{
			Original: filepath.Join(rel, originalName(hash)),
			Fixed:    filepath.Join(rel, fixedName(hash)),
		},
	}
	if info, err := os.Stat(dir); err == nil {
		meta.CreatedAt = info.ModTime().UTC()
	}

	prefix := hash + "_ocr_"
	texts, _ := filepath.Glob(filepath.Join(dir, prefix+"*.txt"))
	sort.Strings(texts)
	if len(texts) > 0 {
		name := filepath.Base(texts[len(texts)-1])
		meta.PromptVersion = strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".txt")
		meta.Files.OCR = filepath.Join(rel, name)
		if info, err := os.Stat(texts[len(texts)-1]); err == nil {
			meta.CreatedAt = info.ModTime().UTC()
		}
	}
	return meta
}

func readMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if meta.Hash != filepath.Base(dir) {
		return nil, fmt.Errorf("metadata hash %q does not match directory", meta.Hash)
	}
	return &meta, nil
}

func writeMetadata(dir string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, metadataFile), data); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// writeFileAtomic replaces path so readers never observe a partial file
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
