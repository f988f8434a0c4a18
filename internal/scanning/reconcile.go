package scanning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

const (
	// MaxAttempts bounds the extraction rounds per image
	MaxAttempts = 2
)

// ResidualTolerance returns the absolute difference accepted between line totals and the receipt total
func ResidualTolerance() decimal.Decimal { return decimal.New(1, -3) }

// Residual returns the sum of pre-discount line totals minus the declared total.
// It is a heuristic cross-check, not an accounting identity.
func Residual(r *Receipt) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range r.Products {
		sum = sum.Add(decimal.NewFromFloat(p.TotalPrice))
	}
	return sum.Sub(decimal.NewFromFloat(r.TotalAmount))
}

// Reconciled reports whether a residual is within ResidualTolerance
func Reconciled(residual decimal.Decimal) bool {
	return residual.Abs().LessThanOrEqual(ResidualTolerance())
}

// Outcome is the result of reconciling one image. Receipt is never nil: it is
// the Sentinel when no attempt produced a consistent receipt.
type Outcome struct {
	Receipt       *Receipt
	Accepted      bool
	Attempts      int
	Residual      float64
	Raw           string
	Model         string
	PromptVersion string
	TokensIn      int
	TokensOut     int
}

// Reconciler drives the extraction attempts and the correction round
type Reconciler struct {
	extractor *Extractor
}

// NewReconciler creates a Reconciler over an Extractor
func NewReconciler(extractor *Extractor) *Reconciler {
	return &Reconciler{extractor: extractor}
}

// ModelName identifies the model used for extraction
func (r *Reconciler) ModelName() string { return r.extractor.ModelName() }

// Reconcile extracts a receipt from a JPEG image. Only an unknown prompt
// version is reported as an error; model failures end in the Sentinel.
func (r *Reconciler) Reconcile(ctx context.Context, image []byte, promptVersion string) (*Outcome, error) {
	if promptVersion == "" {
		promptVersion = DefaultPromptVersion
	}
	system, err := Prompt(promptVersion)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Model:         r.extractor.ModelName(),
		PromptVersion: promptVersion,
	}

	initial := []Message{{Role: RoleUser, Text: extractUserPrompt, Image: image}}
	conversation := initial

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			slog.Warn("Extraction abandoned", "attempt", attempt, "error", ctx.Err())
			break
		}
		out.Attempts = attempt

		cand, err := r.extractor.Extract(ctx, system, conversation)
		if cand != nil {
			out.TokensIn += cand.TokensIn
			out.TokensOut += cand.TokensOut
			out.Raw = cand.Raw
			out.Model = cand.Model
		}
		if err != nil {
			attemptsTotal.WithLabelValues("failed").Inc()
			slog.Warn("Extraction attempt failed", "attempt", attempt, "error", err)
			conversation = initial
			continue
		}

		residual := Residual(cand.Receipt)
		out.Residual = residual.InexactFloat64()
		slog.Info("Extraction attempt finished",
			"attempt", attempt,
			"residual", residual.String(),
			"products", len(cand.Receipt.Products),
			"tokens_in", cand.TokensIn,
			"tokens_out", cand.TokensOut,
		)

		if Reconciled(residual) {
			attemptsTotal.WithLabelValues("accepted").Inc()
			if attempt == 1 {
				outcomesTotal.WithLabelValues("first_attempt").Inc()
			} else {
				outcomesTotal.WithLabelValues("corrected").Inc()
			}
			out.Receipt = cand.Receipt
			out.Accepted = true
			return out, nil
		}

		attemptsTotal.WithLabelValues("mismatch").Inc()
		conversation, err = correction(initial, cand.Receipt, residual)
		if err != nil {
			slog.Warn("Building correction turn failed", "error", err)
			conversation = initial
		}
	}

	outcomesTotal.WithLabelValues("fallback").Inc()
	slog.Warn("Receipt could not be reconciled, returning placeholder",
		"attempts", out.Attempts,
		"residual", out.Residual,
	)
	out.Receipt = Sentinel()
	return out, nil
}

// correction appends the previous answer and an instruction citing the residual
func correction(initial []Message, prior *Receipt, residual decimal.Decimal) ([]Message, error) {
	priorJSON, err := json.Marshal(prior)
	if err != nil {
		return nil, fmt.Errorf("marshaling prior receipt: %w", err)
	}

	messages := make([]Message, 0, len(initial)+2)
	messages = append(messages, initial...)
	messages = append(messages,
		Message{Role: RoleAssistant, Text: string(priorJSON)},
		Message{Role: RoleUser, Text: fmt.Sprintf(correctionPrompt, residual.String())},
	)
	return messages, nil
}
