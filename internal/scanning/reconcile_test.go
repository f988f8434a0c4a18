package scanning

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

type fakeReply struct {
	text  string
	err   error
	block bool
	empty bool
}

// fakeModel replays scripted replies and records every request
type fakeModel struct {
	mu       sync.Mutex
	replies  []fakeReply
	requests []Request
}

func (f *fakeModel) Generate(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	f.mu.Unlock()

	if i >= len(f.replies) {
		return nil, errors.New("unexpected model call")
	}
	reply := f.replies[i]
	if reply.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if reply.err != nil {
		return nil, reply.err
	}
	if reply.empty {
		return nil, nil
	}
	return &Response{Text: reply.text, Model: "fake-vision", TokensIn: 1200, TokensOut: 300}, nil
}

func (f *fakeModel) Name() string { return "fake-vision" }

func (f *fakeModel) Close() error { return nil }

var _ = Describe("Residual", func() {
	It("sums pre-discount line totals against the declared total", func() {
		r := sampleReceipt(10.00, 4.99, 4.99)
		Expect(Residual(r).Equal(decimal.RequireFromString("-0.02"))).To(BeTrue())
	})

	It("uses a tolerance of one thousandth", func() {
		Expect(ResidualTolerance().Equal(decimal.RequireFromString("0.001"))).To(BeTrue())
	})

	It("accepts differences within the tolerance", func() {
		Expect(Reconciled(decimal.RequireFromString("0.001"))).To(BeTrue())
		Expect(Reconciled(decimal.RequireFromString("-0.001"))).To(BeTrue())
		Expect(Reconciled(decimal.RequireFromString("0.0011"))).To(BeFalse())
	})

	It("does not suffer from float accumulation", func() {
		r := sampleReceipt(0.3, 0.1, 0.1, 0.1)
		Expect(Residual(r).IsZero()).To(BeTrue())
	})
})

var _ = Describe("Reconciler", func() {
	var (
		model   *fakeModel
		timeout time.Duration
		outcome *Outcome
		err     error
		image   []byte
	)

	BeforeEach(func() {
		model = &fakeModel{}
		timeout = time.Second
		image = []byte("jpeg bytes")
	})

	JustBeforeEach(func() {
		extractor := NewExtractor(model, ExtractorConfig{MaxTokens: 5000, Timeout: timeout})
		outcome, err = NewReconciler(extractor).Reconcile(context.Background(), image, "")
	})

	When("the first answer reconciles", func() {
		BeforeEach(func() {
			model.replies = []fakeReply{{text: sampleJSON(19.98, 9.99, 9.99)}}
		})

		It("accepts without a second call", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Accepted).To(BeTrue())
			Expect(outcome.Attempts).To(Equal(1))
			Expect(model.requests).To(HaveLen(1))
		})

		It("reports usage and the prompt version", func() {
			Expect(outcome.TokensIn).To(Equal(1200))
			Expect(outcome.TokensOut).To(Equal(300))
			Expect(outcome.Model).To(Equal("fake-vision"))
			Expect(outcome.PromptVersion).To(Equal(DefaultPromptVersion))
		})

		It("sends the image, system rules, schema and token limit", func() {
			req := model.requests[0]
			Expect(req.System).To(ContainSubstring("Do not group identical items"))
			Expect(req.Schema).NotTo(BeNil())
			Expect(req.MaxTokens).To(Equal(5000))
			Expect(req.Messages).To(HaveLen(1))
			Expect(req.Messages[0].Image).To(Equal(image))
		})
	})

	When("the same product is listed three times", func() {
		BeforeEach(func() {
			model.replies = []fakeReply{{text: sampleJSON(14.97, 4.99, 4.99, 4.99)}}
		})

		It("keeps every repetition", func() {
			Expect(outcome.Receipt.Products).To(HaveLen(3))
		})
	})

	When("the first answer misses an item and the correction fixes it", func() {
		BeforeEach(func() {
			model.replies = []fakeReply{
				{text: sampleJSON(19.98, 9.99)},
				{text: sampleJSON(19.98, 9.99, 9.99)},
			}
		})

		It("accepts the corrected answer", func() {
			Expect(outcome.Accepted).To(BeTrue())
			Expect(outcome.Attempts).To(Equal(2))
			Expect(outcome.Receipt.Products).To(HaveLen(2))
		})

		It("replays the conversation with the prior answer and the residual", func() {
			req := model.requests[1]
			Expect(req.Messages).To(HaveLen(3))
			Expect(req.Messages[0].Image).To(Equal(image))
			Expect(req.Messages[1].Role).To(Equal(RoleAssistant))
			Expect(req.Messages[1].Text).To(ContainSubstring(`"receipt_number":"2024/01/15/0042"`))
			Expect(req.Messages[2].Role).To(Equal(RoleUser))
			Expect(req.Messages[2].Text).To(ContainSubstring("differs from the total amount on the receipt by -9.99"))
		})

		It("accumulates usage across attempts", func() {
			Expect(outcome.TokensIn).To(Equal(2400))
			Expect(outcome.TokensOut).To(Equal(600))
		})
	})

	When("both answers fail to reconcile", func() {
		BeforeEach(func() {
			model.replies = []fakeReply{
				{text: sampleJSON(19.98, 9.99)},
				{text: sampleJSON(19.98, 5.00)},
			}
		})

		It("returns the sentinel receipt", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Accepted).To(BeFalse())
			Expect(outcome.Receipt).To(Equal(Sentinel()))
			Expect(outcome.Attempts).To(Equal(2))
		})

		It("keeps the last residual and raw answer for audit", func() {
			Expect(outcome.Residual).To(BeNumerically("~", -14.98, 1e-9))
			Expect(outcome.Raw).To(ContainSubstring(`"total_price":5`))
		})
	})

	When("the first answer fails schema validation", func() {
		BeforeEach(func() {
			model.replies = []fakeReply{
				{text: `{"receipt_number": "1"}`},
				{text: sampleJSON(9.99, 9.99)},
			}
		})

		It("retries from scratch and accepts the second answer", func() {
			Expect(outcome.Accepted).To(BeTrue())
			Expect(model.requests[1].Messages).To(HaveLen(1))
		})
	})

	When("the model call times out", func() {
		BeforeEach(func() {
			timeout = 20 * time.Millisecond
			model.replies = []fakeReply{{block: true}, {block: true}}
		})

		It("consumes the attempts and falls back to the sentinel", func() {
			Expect(outcome.Attempts).To(Equal(2))
			Expect(outcome.Receipt.IsSentinel()).To(BeTrue())
		})
	})

	When("the transport fails once", func() {
		BeforeEach(func() {
			model.replies = []fakeReply{
				{err: errors.New("connection reset")},
				{text: sampleJSON(9.99, 9.99)},
			}
		})

		It("uses the remaining attempt", func() {
			Expect(outcome.Accepted).To(BeTrue())
			Expect(outcome.Attempts).To(Equal(2))
		})
	})

	When("the model returns no response and no error", func() {
		BeforeEach(func() {
			model.replies = []fakeReply{
				{empty: true},
				{text: sampleJSON(9.99, 9.99)},
			}
		})

		It("counts it as a failed attempt", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Accepted).To(BeTrue())
			Expect(outcome.Attempts).To(Equal(2))
			Expect(model.requests).To(HaveLen(2))
		})
	})

	When("the prompt version is unknown", func() {
		It("fails before calling the model", func() {
			unused := &fakeModel{}
			extractor := NewExtractor(unused, ExtractorConfig{})
			_, err := NewReconciler(extractor).Reconcile(context.Background(), image, "9_9_9")
			Expect(err).To(MatchError(ErrBadInput))
			Expect(unused.requests).To(BeEmpty())
		})
	})
})
