package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Role is the speaker of a conversational turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Record is one logged conversational turn. Records are immutable once written.
type Record struct {
	Timestamp time.Time
	Role      Role
	Content   string
	SessionID string
}

// Turn is one entry of a session context as sent to the completion delegate
type Turn struct {
	Role    Role
	Content string
}

// Turn converts the record to a context turn
func (r Record) Turn() Turn {
	return Turn{Role: r.Role, Content: r.Content}
}

// recordLine is the persisted shape of a Record
type recordLine struct {
	Timestamp string `json:"ts"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	SessionID string `json:"session,omitempty"`
}

// timestampLayout is RFC 3339 at second precision
const timestampLayout = "2006-01-02T15:04:05Z"

// MarshalRecord serializes a record to a single line without the trailing newline
func MarshalRecord(rec Record) ([]byte, error) {
	if !rec.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, rec.Role)
	}
	line := recordLine{
		Timestamp: rec.Timestamp.UTC().Truncate(time.Second).Format(timestampLayout),
		Role:      string(rec.Role),
		Content:   rec.Content,
		SessionID: rec.SessionID,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize record: %w", err)
	}
	return data, nil
}

// ParseRecord parses one persisted line.
// Lines that are not a JSON object, carry an unknown role, or whose content
// is not a string are rejected so callers can skip them.
func ParseRecord(line []byte) (Record, error) {
	if len(strings.TrimSpace(string(line))) == 0 || !gjson.ValidBytes(line) {
		return Record{}, ErrMalformedRecord
	}
	doc := gjson.ParseBytes(line)
	if !doc.IsObject() {
		return Record{}, ErrMalformedRecord
	}

	roleField := doc.Get("role")
	if roleField.Type != gjson.String {
		return Record{}, ErrInvalidRole
	}
	role := Role(roleField.Str)
	if !role.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidRole, roleField.Str)
	}

	content := doc.Get("content")
	if content.Type != gjson.String {
		return Record{}, ErrInvalidContent
	}

	rec := Record{
		Role:      role,
		Content:   content.Str,
		SessionID: doc.Get("session").String(),
	}
	// An unreadable timestamp does not invalidate the record; ordering is physical.
	if ts := doc.Get("ts"); ts.Type == gjson.String {
		if t, err := time.Parse(time.RFC3339, ts.Str); err == nil {
			rec.Timestamp = t.UTC()
		}
	}
	return rec, nil
}
