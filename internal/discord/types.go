// Package discord implements the small slice of the Discord API the bot
// needs: a gateway connection for events and a REST client for messages.
package discord

// User is a Discord user, as embedded in gateway events.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

// Message is a channel message, as returned by the REST API and carried by
// MESSAGE_CREATE dispatches.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    User   `json:"author"`
}

// Emoji identifies a reaction emoji. Unicode emoji carry only a name.
type Emoji struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ReactionAdd is a MESSAGE_REACTION_ADD dispatch.
type ReactionAdd struct {
	UserID          string `json:"user_id"`
	ChannelID       string `json:"channel_id"`
	MessageID       string `json:"message_id"`
	MessageAuthorID string `json:"message_author_id"`
	Emoji           Emoji  `json:"emoji"`
}

// Ready is the READY dispatch sent after a successful identify.
type Ready struct {
	User      User   `json:"user"`
	SessionID string `json:"session_id"`
}

// Activity is the bot's displayed activity. Type 4 is a custom status.
type Activity struct {
	Name  string `json:"name"`
	Type  int    `json:"type"`
	State string `json:"state,omitempty"`
}

// Presence is the bot's gateway presence, computed once at startup and sent
// with the identify payload.
type Presence struct {
	Status     string     `json:"status"`
	Activities []Activity `json:"activities"`
	AFK        bool       `json:"afk"`
	Since      *int64     `json:"since"`
}

// CustomStatus builds an online presence showing text as a custom status.
func CustomStatus(text string) Presence {
	return Presence{
		Status:     "online",
		Activities: []Activity{{Name: "Custom Status", Type: 4, State: text}},
	}
}
