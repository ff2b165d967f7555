// Package keygen produces the random identifiers that serve both as
// storage keys and as capability tokens for staged files.
package keygen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Size is the number of random bytes behind every key.
const Size = 64

// Length is the length of an encoded key.
const Length = Size * 2

// source is swapped in tests to simulate an exhausted entropy source.
var source io.Reader = rand.Reader

// New returns a fresh hex-encoded key. It panics if the system entropy
// source fails, since no key handed out afterwards could be trusted.
func New() string {
	key, err := generate()
	if err != nil {
		panic(err)
	}
	return key
}

// Check draws one key and reports whether the entropy source works.
// Call it once at startup so a broken source stops the process before
// any request is served.
func Check() error {
	_, err := generate()
	return err
}

// Valid reports whether s has the shape of a key produced by New.
// Handlers use it to reject malformed path parameters early.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func generate() (string, error) {
	buf := make([]byte, Size)
	if _, err := io.ReadFull(source, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
