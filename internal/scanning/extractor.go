package scanning

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultMaxTokens    = 5000
	DefaultModelTimeout = 60 * time.Second
)

// ExtractorConfig holds the settings of a single model call
type ExtractorConfig struct {
	MaxTokens int
	Timeout   time.Duration
}

// Extractor performs one schema-validated extraction call against a Model
type Extractor struct {
	model Model
	cfg   ExtractorConfig
}

// NewExtractor creates an Extractor, filling zero config values with defaults
func NewExtractor(model Model, cfg ExtractorConfig) *Extractor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultModelTimeout
	}
	return &Extractor{model: model, cfg: cfg}
}

// ModelName identifies the underlying model
func (e *Extractor) ModelName() string { return e.model.Name() }

// Candidate is one model answer. Receipt is nil when the answer failed validation.
type Candidate struct {
	Receipt   *Receipt
	Raw       string
	Model     string
	TokensIn  int
	TokensOut int
}

// Extract sends the conversation and validates the reply against the receipt schema.
// The call is bounded by the configured timeout. When the model answered but the
// answer is unusable, the returned Candidate still carries raw text and usage.
func (e *Extractor) Extract(ctx context.Context, system string, messages []Message) (*Candidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.model.Generate(callCtx, Request{
		System:    system,
		Messages:  messages,
		Schema:    ReceiptSchema(),
		MaxTokens: e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("calling model: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("calling model: empty response from %s", e.model.Name())
	}

	tokensTotal.WithLabelValues("in").Add(float64(resp.TokensIn))
	tokensTotal.WithLabelValues("out").Add(float64(resp.TokensOut))

	cand := &Candidate{
		Raw:       resp.Text,
		Model:     resp.Model,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
	}
	if cand.Model == "" {
		cand.Model = e.model.Name()
	}

	receipt, err := parseReceiptJSON(resp.Text)
	if err != nil {
		return cand, fmt.Errorf("parsing receipt data: %w", err)
	}
	cand.Receipt = receipt
	return cand, nil
}
