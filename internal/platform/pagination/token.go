package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const tokenVersion = 1

// Cursor is the position a page token resumes after.
type Cursor struct {
	After string
}

type tokenBody struct {
	V     int    `json:"v"`
	After string `json:"a"`
}

// EncodeToken renders cursor as an opaque URL-safe token; the zero cursor is "".
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.After == "" {
		return "", nil
	}
	data, err := json.Marshal(tokenBody{V: tokenVersion, After: cursor.After})
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token from EncodeToken. Tokens from another layout
// version are rejected with ErrInvalidPageToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var body tokenBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if body.V != tokenVersion || body.After == "" {
		return Cursor{}, fmt.Errorf("%w: unsupported token", ErrInvalidPageToken)
	}
	return Cursor{After: body.After}, nil
}
