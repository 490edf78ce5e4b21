package model

// Role is the speaker of a completion message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one (role, content) pair sent to the completion service
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
