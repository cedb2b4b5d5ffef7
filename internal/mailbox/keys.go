// Package mailbox implements the shared-bucket handshake with the external
// inference worker: freshly keyed uploads on one prefix, polled results on a
// sibling prefix, correlated only by a generated identifier.
package mailbox

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultUnlabelledPrefix = "image/unlabelled"
	DefaultLabelledPrefix   = "image/labelled"

	// Objects are always keyed .jpg regardless of the submitted content
	// type; the worker on the other side of the bucket expects that.
	keyExtension = ".jpg"
)

var ErrMalformedKey = errors.New("malformed object key")

// KeyPair is the pair of object-store locations used as the input and
// output mailbox for one inspection.
type KeyPair struct {
	ID            uuid.UUID
	UnlabelledKey string
	LabelledKey   string
}

// KeyScheme builds and derives mailbox keys under a fixed prefix pair.
type KeyScheme struct {
	unlabelledPrefix string
	labelledPrefix   string
}

func NewKeyScheme(unlabelledPrefix, labelledPrefix string) KeyScheme {
	up := strings.Trim(strings.TrimSpace(unlabelledPrefix), "/")
	if up == "" {
		up = DefaultUnlabelledPrefix
	}
	lp := strings.Trim(strings.TrimSpace(labelledPrefix), "/")
	if lp == "" {
		lp = DefaultLabelledPrefix
	}
	return KeyScheme{unlabelledPrefix: up, labelledPrefix: lp}
}

func (s KeyScheme) UnlabelledPrefix() string { return s.unlabelledPrefix }
func (s KeyScheme) LabelledPrefix() string   { return s.labelledPrefix }

// NewPair generates a fresh identifier and the key pair for it.
func (s KeyScheme) NewPair() KeyPair {
	return s.PairFor(uuid.New())
}

// PairFor returns the deterministic key pair for a known identifier.
func (s KeyScheme) PairFor(id uuid.UUID) KeyPair {
	return KeyPair{
		ID:            id,
		UnlabelledKey: s.unlabelledPrefix + "/" + id.String() + keyExtension,
		LabelledKey:   s.labelledPrefix + "/" + id.String() + keyExtension,
	}
}

// DeriveLabelledKey maps an unlabelled key to the labelled key the worker
// will deposit the processed image at. The identifier is the key's base
// name with the extension stripped; no store round-trip is involved.
func (s KeyScheme) DeriveLabelledKey(unlabelledKey string) (string, error) {
	id, err := identifierFrom(unlabelledKey)
	if err != nil {
		return "", err
	}
	return s.labelledPrefix + "/" + id + keyExtension, nil
}

// ParseID recovers the correlation identifier from either key form.
func ParseID(key string) (uuid.UUID, error) {
	id, err := identifierFrom(key)
	if err != nil {
		return uuid.Nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q has no uuid base name", ErrMalformedKey, key)
	}
	return parsed, nil
}

func identifierFrom(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" || strings.HasSuffix(trimmed, "/") {
		return "", fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	base := path.Base(trimmed)
	if base == "." || base == "/" {
		return "", fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	id := strings.TrimSuffix(base, path.Ext(base))
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	return id, nil
}
