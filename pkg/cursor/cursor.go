package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the (created_at, id) sort key of the last row a client has seen.
// id breaks ties between rows created in the same microsecond.
//
// Encode and Decode normalise created_at, so Decode(Encode(c)) == c holds
// only for cursors built with Of. For any other c it returns Of(c.CreatedAt, c.ID).
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// Of builds a cursor normalised to UTC at microsecond precision, the
// resolution PostgreSQL stores timestamps at. Keys must go through Of before
// comparison so in-memory and database orderings agree.
func Of(createdAt time.Time, id string) Cursor {
	return Cursor{CreatedAt: Normalize(createdAt), ID: id}
}

// Normalize truncates t to microseconds in UTC and drops the monotonic reading.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Encode returns the opaque token for c: unpadded URL-safe base64 of its JSON.
func Encode(c Cursor) string {
	raw, _ := json.Marshal(Of(c.CreatedAt, c.ID))
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a token produced by Encode. Tokens with standard or padded
// base64 are accepted as well.
func Decode(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, fmt.Errorf("%w: empty token", ErrInvalidCursor)
	}

	raw, err := decodeBase64(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		return Cursor{}, fmt.Errorf("%w: missing created_at or id", ErrInvalidCursor)
	}
	return Of(c.CreatedAt, c.ID), nil
}

func decodeBase64(token string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		if raw, err := enc.DecodeString(token); err == nil {
			return raw, nil
		}
	}
	return nil, errors.New("not base64")
}

// Compare orders two keys by created_at, then id. It returns -1, 0 or +1.
func Compare(a, b Cursor) int {
	switch {
	case a.CreatedAt.Before(b.CreatedAt):
		return -1
	case a.CreatedAt.After(b.CreatedAt):
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}
