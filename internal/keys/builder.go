// Package keys builds the stable identifiers that name one guarded operation.
package keys

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
)

// Separator joins the prefix and the parts of a key.
const Separator = ":"

var ErrEmptyPrefix = errors.New("key prefix must not be empty")

var escaper = strings.NewReplacer(`\`, `\\`, Separator, `\`+Separator)

// Build joins prefix and parts into a readable key. Each component is escaped
// so that a separator inside a part can never be confused with a boundary:
// ("a:b") and ("a", "b") yield different keys.
func Build(prefix string, parts ...string) (string, error) {
	if prefix == "" {
		return "", ErrEmptyPrefix
	}

	var b strings.Builder

	b.WriteString(escaper.Replace(prefix))

	for _, part := range parts {
		b.WriteString(Separator)
		b.WriteString(escaper.Replace(part))
	}

	return b.String(), nil
}

// BuildHashed returns prefix followed by the hex SHA-256 digest of the
// length-prefixed parts. Use it when parts are large or carry serialized
// arguments that should not leak into the store.
func BuildHashed(prefix string, parts ...string) (string, error) {
	if prefix == "" {
		return "", ErrEmptyPrefix
	}

	return escaper.Replace(prefix) + Separator + Digest(parts...), nil
}

// Digest hashes parts unambiguously: every part is preceded by its length.
func Digest(parts ...string) string {
	h := sha256.New()

	var size [8]byte

	for _, part := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		h.Write(size[:])
		h.Write([]byte(part))
	}

	return hex.EncodeToString(h.Sum(nil))
}
