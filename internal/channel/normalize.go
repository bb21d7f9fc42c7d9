package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"synobridge/internal/domain"
)

const formContentType = "application/x-www-form-urlencoded"

// Normalize turns a Synology outgoing-webhook body into an InboundMessage.
// Form-encoded bodies are detected from the content type; anything else must
// be a JSON object. Both encodings get the same defaults.
func Normalize(contentType string, body []byte) (domain.InboundMessage, error) {
	var p rawPayload
	if strings.Contains(strings.ToLower(contentType), formContentType) {
		p = parseForm(body)
	} else {
		var err error
		if p, err = parseJSON(body); err != nil {
			return domain.InboundMessage{}, &domain.ParseError{ContentType: contentType, Err: err}
		}
	}
	return p.message(), nil
}

// rawPayload holds the fields as the platform sent them, before defaults.
type rawPayload struct {
	Text        flexString `json:"text"`
	UserName    flexString `json:"user_name"`
	Username    flexString `json:"username"`
	ChannelID   flexString `json:"channel_id"`
	ChannelName flexString `json:"channel_name"`
	Token       flexString `json:"token"`
	PostID      flexString `json:"post_id"`
	Timestamp   flexString `json:"timestamp"`
}

func (p rawPayload) message() domain.InboundMessage {
	name := firstNonEmpty(string(p.UserName), string(p.Username))
	return domain.InboundMessage{
		Text:        string(p.Text),
		UserID:      firstNonEmpty(name, domain.DefaultUserID),
		UserName:    firstNonEmpty(name, domain.DefaultUserName),
		ChannelID:   firstNonEmpty(string(p.ChannelID), domain.DefaultChannelID),
		ChannelName: firstNonEmpty(string(p.ChannelName), domain.DefaultChannelName),
		Handle:      string(p.Username),
		Token:       string(p.Token),
		PostID:      string(p.PostID),
		Timestamp:   string(p.Timestamp),
	}
}

// parseForm is lenient like the platform itself: pairs that fail to decode
// are dropped, the rest are kept.
func parseForm(body []byte) rawPayload {
	values, _ := url.ParseQuery(string(body))
	return rawPayload{
		Text:        flexString(values.Get("text")),
		UserName:    flexString(values.Get("user_name")),
		Username:    flexString(values.Get("username")),
		ChannelID:   flexString(values.Get("channel_id")),
		ChannelName: flexString(values.Get("channel_name")),
		Token:       flexString(values.Get("token")),
		PostID:      flexString(values.Get("post_id")),
		Timestamp:   flexString(values.Get("timestamp")),
	}
}

var errNotObject = errors.New("payload is not a JSON object")

func parseJSON(body []byte) (rawPayload, error) {
	var p rawPayload
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] != '{' && json.Valid(trimmed) {
		return p, errNotObject
	}
	err := json.Unmarshal(trimmed, &p)
	return p, err
}

// flexString accepts JSON strings, numbers and booleans. Synology sends ids
// as numbers; null and nested values read as "".
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	switch {
	case bytes.Equal(data, []byte("null")), len(data) > 0 && (data[0] == '{' || data[0] == '['):
		*f = ""
	default:
		// number or boolean literal
		*f = flexString(data)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
