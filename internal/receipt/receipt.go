package receipt

import (
	"fmt"
	"time"

	"github.com/zombor/paragon/internal/scanning"
)

// Files lists the stored artifacts of a receipt, relative to the store root
type Files struct {
	Original string `json:"original"`
	Fixed    string `json:"fixed"`
	OCR      string `json:"ocr,omitempty"`
}

// Metadata is the index record kept next to the artifacts of one image
type Metadata struct {
	Hash          string    `json:"hash"`
	Date          string    `json:"date"`
	PromptVersion string    `json:"prompt_version"`
	CreatedAt     time.Time `json:"created_at"`
	Path          string    `json:"path"`
	Files         Files     `json:"files"`
}

// Artifacts is everything written for one processed image
type Artifacts struct {
	Date          string
	Hash          string
	Original      []byte
	Fixed         []byte
	RawText       string
	PromptVersion string
	CreatedAt     time.Time
}

// Default check field values reported when nothing was extracted
const (
	UnknownDate    = "1900-01-01"
	UnknownCompany = "UNKNOWN"
)

// UploadResult is returned for every processed upload
type UploadResult struct {
	Hash          string            `json:"hash"`
	CheckDate     string            `json:"check_date"`
	CheckCompany  string            `json:"check_company"`
	CheckTotal    string            `json:"check_total"`
	LLMModel      string            `json:"llm_model"`
	TokensIn      int               `json:"tokens_in"`
	TokensOut     int               `json:"tokens_out"`
	PromptVersion string            `json:"prompt_version"`
	Attempts      int               `json:"attempts"`
	Residual      float64           `json:"residual"`
	Rotation      int               `json:"rotation"`
	Extracted     bool              `json:"extracted"`
	Cached        bool              `json:"cached"`
	Receipt       *scanning.Receipt `json:"receipt"`
	Metadata      *Metadata         `json:"metadata,omitempty"`
}

func newUploadResult(hash string, rotation int, outcome *scanning.Outcome, meta *Metadata) *UploadResult {
	res := &UploadResult{
		Hash:          hash,
		CheckDate:     UnknownDate,
		CheckCompany:  UnknownCompany,
		CheckTotal:    "0.00",
		LLMModel:      outcome.Model,
		TokensIn:      outcome.TokensIn,
		TokensOut:     outcome.TokensOut,
		PromptVersion: outcome.PromptVersion,
		Attempts:      outcome.Attempts,
		Residual:      outcome.Residual,
		Rotation:      rotation,
		Extracted:     outcome.Accepted,
		Receipt:       outcome.Receipt,
		Metadata:      meta,
	}
	if outcome.Accepted {
		res.CheckDate = outcome.Receipt.Date
		res.CheckCompany = outcome.Receipt.Store.Name
		res.CheckTotal = fmt.Sprintf("%.2f", outcome.Receipt.TotalAmount)
	}
	return res
}

// SaveResult reports a receipt persisted to the ledger
type SaveResult struct {
	ReceiptID uint   `json:"receipt_id"`
	Hash      string `json:"hash"`
	Message   string `json:"message"`
}
