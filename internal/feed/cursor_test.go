package feed

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestCursor_RoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		cursor Cursor
	}{
		{
			name:   "ranked cursor with session",
			cursor: Cursor{LastID: "post-042", SessionID: "sess-abc"},
		},
		{
			name:   "chronological cursor with timestamp",
			cursor: Cursor{LastID: "post-042", Timestamp: &ts},
		},
		{
			name:   "minimal cursor",
			cursor: Cursor{LastID: "p"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := EncodeCursor(tt.cursor)
			if token == "" {
				t.Fatal("expected non-empty token")
			}

			decoded := DecodeCursor(token)
			if decoded == nil {
				t.Fatal("expected decoded cursor, got nil")
			}
			if decoded.LastID != tt.cursor.LastID {
				t.Errorf("LastID = %q, want %q", decoded.LastID, tt.cursor.LastID)
			}
			if decoded.SessionID != tt.cursor.SessionID {
				t.Errorf("SessionID = %q, want %q", decoded.SessionID, tt.cursor.SessionID)
			}
			if (decoded.Timestamp == nil) != (tt.cursor.Timestamp == nil) {
				t.Fatalf("Timestamp presence mismatch")
			}
			if decoded.Timestamp != nil && !decoded.Timestamp.Equal(*tt.cursor.Timestamp) {
				t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, tt.cursor.Timestamp)
			}
		})
	}
}

func TestDecodeCursor_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"not base64", "!!not-base64!!"},
		{"base64 but not json", base64.RawURLEncoding.EncodeToString([]byte("garbage"))},
		{"json but missing last_id", base64.RawURLEncoding.EncodeToString([]byte(`{"session_id":"s1"}`))},
		{"truncated token", EncodeCursor(Cursor{LastID: "post-1"})[:4]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeCursor(tt.token); got != nil {
				t.Errorf("DecodeCursor(%q) = %+v, want nil", tt.token, got)
			}
		})
	}
}

func TestDecodeCursor_PaddedEncoding(t *testing.T) {
	// Some clients re-encode tokens with standard padded base64.
	token := EncodeCursor(Cursor{LastID: "post-1", SessionID: "sess-1"})
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("decoding own token: %v", err)
	}
	padded := base64.URLEncoding.EncodeToString(raw)

	decoded := DecodeCursor(padded)
	if decoded == nil {
		t.Fatal("expected padded token to decode")
	}
	if decoded.LastID != "post-1" || decoded.SessionID != "sess-1" {
		t.Errorf("decoded = %+v, want LastID=post-1 SessionID=sess-1", decoded)
	}
}

func TestEncodeCursor_URLSafe(t *testing.T) {
	ts := time.Now()
	token := EncodeCursor(Cursor{LastID: "post/with+chars", SessionID: "sess-1", Timestamp: &ts})
	for _, c := range token {
		if c == '+' || c == '/' || c == '=' {
			t.Fatalf("token contains URL-unsafe character %q: %s", c, token)
		}
	}
}
