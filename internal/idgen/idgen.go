// Package idgen generates short, URL-safe identifiers for verification
// requests.
package idgen

import (
	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rotisserie/eris"
)

// RequestPrefix is prepended to every verification request id.
const RequestPrefix = "vr-"

// Alphabet defines the character set used for the random portion of the ID.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
const Length = 12

// Generator produces ids. The orchestrator takes one so tests can supply
// predictable ids.
type Generator func() (string, error)

// NewRequestID returns a new request id.
func NewRequestID() (string, error) {
	return WithPrefix(RequestPrefix)
}

// WithPrefix returns a new unique ID with the given prefix.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", eris.Wrap(err, "idgen: generate")
	}
	return prefix + id, nil
}
