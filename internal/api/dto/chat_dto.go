package dto

// EventEnvelope is the outer payload of the chat platform's event webhook.
type EventEnvelope struct {
	Type      string     `json:"type"`
	Challenge string     `json:"challenge"`
	TeamID    string     `json:"team_id"`
	Event     InnerEvent `json:"event"`
}

// InnerEvent is the event body inside an event_callback envelope.
type InnerEvent struct {
	Type     string    `json:"type"`
	Reaction string    `json:"reaction"`
	UserID   string    `json:"user"`
	Item     EventItem `json:"item"`
}

// EventItem locates the message a reaction event refers to.
type EventItem struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel"`
	Timestamp string `json:"ts"`
}

// SlashCommand is the form-encoded payload of a slash-command invocation.
type SlashCommand struct {
	Command   string
	Text      string
	UserID    string
	ChannelID string
}

// CommandResponse is the immediate reply to a slash command.
type CommandResponse struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

// Ephemeral builds a reply visible only to the invoking user.
func Ephemeral(text string) CommandResponse {
	return CommandResponse{ResponseType: "ephemeral", Text: text}
}

// InteractionPayload is the decoded payload of an interactive component
// callback (button clicks).
type InteractionPayload struct {
	Type    string              `json:"type"`
	User    InteractionUser     `json:"user"`
	Channel InteractionChannel  `json:"channel"`
	Actions []InteractionAction `json:"actions"`
}

// InteractionUser identifies who clicked.
type InteractionUser struct {
	ID string `json:"id"`
}

// InteractionChannel identifies where the clicked message lives.
type InteractionChannel struct {
	ID string `json:"id"`
}

// InteractionAction is one clicked element.
type InteractionAction struct {
	ActionID string `json:"action_id"`
	BlockID  string `json:"block_id"`
	Value    string `json:"value"`
}
