// internal/platform/events.go
package platform

// Event is the closed set of gateway events. One variant exists per event
// kind so the dispatcher can type-switch exhaustively; payload contracts
// are enforced by the gateway before an Event is ever constructed.
type Event interface {
	EventType() string
}

// ReadyEvent is delivered once per gateway session, after login.
type ReadyEvent struct {
	BotUserID   string `json:"botUserId"`
	BotUsername string `json:"botUsername"`
	GuildCount  int    `json:"guildCount"`
}

func (ReadyEvent) EventType() string { return "ready" }

// MemberJoinedEvent is delivered when a user joins a guild.
type MemberJoinedEvent struct {
	GuildID  string `json:"guildId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (MemberJoinedEvent) EventType() string { return "member_joined" }

// MemberLeftEvent is delivered when a user leaves a guild.
type MemberLeftEvent struct {
	GuildID  string `json:"guildId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (MemberLeftEvent) EventType() string { return "member_left" }

// CommandEvent is delivered when a user invokes a slash command.
type CommandEvent struct {
	GuildID       string            `json:"guildId"`
	UserID        string            `json:"userId"`
	InteractionID string            `json:"interactionId"`
	Command       string            `json:"command"`
	Args          map[string]string `json:"args,omitempty"`
}

func (CommandEvent) EventType() string { return "command_invoked" }

// DirectMessageEvent is delivered when a user DMs the bot.
type DirectMessageEvent struct {
	UserID  string `json:"userId"`
	Content string `json:"content"`
	FromBot bool   `json:"fromBot"`
}

func (DirectMessageEvent) EventType() string { return "direct_message" }
