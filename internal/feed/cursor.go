package feed

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Cursor is a decoded pagination position. For chronological feeds the
// (LastID, Timestamp) boundary alone excludes already-seen posts. For
// ranked feeds the cursor additionally carries the server-side session ID
// whose seen-set provides duplicate exclusion.
type Cursor struct {
	LastID    string     `json:"last_id"`
	SessionID string     `json:"session_id,omitempty"`
	Timestamp *time.Time `json:"ts,omitempty"`
}

// EncodeCursor serializes a cursor into an opaque token safe to round-trip
// through a URL query parameter.
func EncodeCursor(c Cursor) string {
	data, err := json.Marshal(c)
	if err != nil {
		// Cursor fields are plain values; marshaling cannot fail in practice.
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses an opaque cursor token. Malformed tokens, invalid
// encodings, and cursors missing the required last-seen ID all yield nil,
// which callers treat as "start from the first page". Decoding never
// returns an error to the caller.
func DecodeCursor(token string) *Cursor {
	if token == "" {
		return nil
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		// Tolerate tokens produced with standard padding.
		data, err = base64.URLEncoding.DecodeString(token)
		if err != nil {
			return nil
		}
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil
	}

	// A cursor without a last-seen ID cannot position anything.
	if c.LastID == "" {
		return nil
	}

	return &c
}
