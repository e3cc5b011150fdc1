package domain

// Chat roles accepted by the generation capability.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the engine
// and LLM integrations. Name is an optional display name for the author.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// CompletionRequest is one call into the generation capability.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float32
}

// Audio is an opaque synthesized speech blob.
type Audio struct {
	Data        []byte
	ContentType string
}
