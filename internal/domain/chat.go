package domain

// Chat roles recognized by the prompt assembly and the LLM backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape handed to the LLM
// integration.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
