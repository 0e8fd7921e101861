// Package platform wraps the external community platform: a REST surface
// for guild/member/marker mutations and a websocket gateway delivering
// membership and command events.
package platform

import "context"

// Guild is a platform-side community server.
type Guild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GuildMember is a platform-side member with the access markers it holds.
type GuildMember struct {
	UserID    string   `json:"userId"`
	Username  string   `json:"username"`
	MarkerIDs []string `json:"markerIds"`
}

// HasMarker reports whether the member currently holds markerID.
func (m *GuildMember) HasMarker(markerID string) bool {
	for _, id := range m.MarkerIDs {
		if id == markerID {
			return true
		}
	}
	return false
}

// Command describes one slash command for surface registration.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Button is one selectable option attached to a command reply.
type Button struct {
	Label    string `json:"label"`
	CustomID string `json:"customId"`
}

// EmbedField is one field of a rich reply embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed is a rich block inside a command reply.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      string       `json:"footer,omitempty"`
}

// CommandReply is the payload sent back for one interaction. Replies are
// always ephemeral: only the invoking user sees them.
type CommandReply struct {
	Content   string   `json:"content,omitempty"`
	Embed     *Embed   `json:"embed,omitempty"`
	Buttons   []Button `json:"buttons,omitempty"`
	Ephemeral bool     `json:"ephemeral"`
}

// Client is the outbound platform surface. Implementations translate
// failures into the application error taxonomy: not-found conditions come
// back as the guild/member/marker not-found codes, everything else as a
// retryable platform error.
type Client interface {
	ResolveGuild(ctx context.Context, guildID string) (*Guild, error)
	FetchMember(ctx context.Context, guildID, userID string) (*GuildMember, error)
	AddAccessMarker(ctx context.Context, guildID, userID, markerID string) error
	RemoveAccessMarker(ctx context.Context, guildID, userID, markerID string) error
	SendDirectNotice(ctx context.Context, userID, text string) error
	ReplyToCommand(ctx context.Context, interactionID string, reply CommandReply) error
	RegisterCommands(ctx context.Context, commands []Command) error
	SetPresence(ctx context.Context, activity string) error
}
