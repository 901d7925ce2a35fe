package domain

// Role identifies who produced a conversation turn
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// Label returns the prefix used when rendering the turn into a prompt.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// Turn is one immutable message in the conversation window
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// String renders the turn as "<ROLE>: <text>".
func (t Turn) String() string {
	return t.Role.Label() + ": " + t.Text
}
