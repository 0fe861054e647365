// Package qrtoken turns session identifiers into opaque, verifiable strings
// that are embedded in QR code URLs.
package qrtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

const tagSize = 16

// tokenEncoding rejects non-canonical encodings so one token has exactly one spelling.
var tokenEncoding = base64.RawURLEncoding.Strict()

// ErrMalformedToken is returned for any token this codec did not produce.
var ErrMalformedToken = errors.New("malformed token")

// Codec encodes session ids as id||tag with an HMAC-SHA256 tag.
type Codec struct {
	key []byte
}

// New returns a codec keyed with secret.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("qr token key required")
	}
	return &Codec{key: []byte(secret)}, nil
}

// Encode is deterministic: the same id always yields the same token.
func (c *Codec) Encode(id uuid.UUID) string {
	buf := make([]byte, 0, len(id)+tagSize)
	buf = append(buf, id[:]...)
	buf = append(buf, c.tag(id)...)
	return tokenEncoding.EncodeToString(buf)
}

// Decode returns the session id carried by token or ErrMalformedToken.
func (c *Codec) Decode(token string) (uuid.UUID, error) {
	if len(token) != tokenEncoding.EncodedLen(len(uuid.UUID{})+tagSize) {
		return uuid.Nil, ErrMalformedToken
	}
	raw, err := tokenEncoding.DecodeString(token)
	if err != nil || len(raw) != len(uuid.UUID{})+tagSize {
		return uuid.Nil, ErrMalformedToken
	}
	var id uuid.UUID
	copy(id[:], raw[:len(id)])
	if !hmac.Equal(raw[len(id):], c.tag(id)) {
		return uuid.Nil, ErrMalformedToken
	}
	return id, nil
}

func (c *Codec) tag(id uuid.UUID) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(id[:])
	return mac.Sum(nil)[:tagSize]
}
