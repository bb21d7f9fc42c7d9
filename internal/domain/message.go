package domain

// InboundMessage is a chat event after normalization. Every field is set,
// whichever wire encoding the platform used.
type InboundMessage struct {
	Text        string
	UserID      string
	UserName    string
	ChannelID   string
	ChannelName string
	Handle      string // raw "username" field, compared by the loop guard
	Token       string // outgoing-webhook token, never logged
	PostID      string
	Timestamp   string
}

// Defaults applied by the normalizer when the platform omits a field.
const (
	DefaultUserID      = "unknown"
	DefaultUserName    = "User"
	DefaultChannelID   = "default"
	DefaultChannelName = "Channel"
)

// SessionPrefix is prepended to the sender id to form the gateway session tag.
const SessionPrefix = "synology-"

// SessionTag maps a sender to its conversation on the gateway side.
func SessionTag(userID string) string {
	return SessionPrefix + userID
}
