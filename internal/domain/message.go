package domain

// ChatRole is the role of a message sent to a completion source or shown in
// a client transcript.
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// Message is a single entry of a completion request.
type Message struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// ChatMessage is a client-side transcript entry. An assistant message's
// content grows as fragments arrive.
type ChatMessage struct {
	ID      string   `json:"id"`
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
	Sources []Source `json:"sources,omitempty"`
	Failed  bool     `json:"failed,omitempty"`
}

// ChatRoleFor maps a stored turn role onto a completion request role.
func ChatRoleFor(r Role) ChatRole {
	if r == RoleAssistant {
		return ChatRoleAssistant
	}
	return ChatRoleUser
}

// Model describes a model offered by a provider.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"contextSize"`
}

// Usage tracks token usage reported by a provider or estimated locally.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Add combines two Usage values.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}
