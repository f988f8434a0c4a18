package scanning

import "context"

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn. Image, when set, is JPEG data attached to the turn.
type Message struct {
	Role  string
	Text  string
	Image []byte
}

// Request is a single call to a vision-language model
type Request struct {
	System    string
	Messages  []Message
	Schema    *Schema
	MaxTokens int
}

// Response is the model output plus usage for cost accounting
type Response struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
}

// Model defines the interface for vision-language model providers
type Model interface {
	// Generate sends the conversation and returns the assistant reply
	Generate(ctx context.Context, req Request) (*Response, error)
	// Name identifies the model for audit records
	Name() string
	// Close closes the client and releases resources
	Close() error
}
