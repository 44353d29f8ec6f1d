// Package credentials keeps provider API keys encrypted at rest and serves
// them to the provider router at call time.
package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var ErrCorrupt = errors.New("credential ciphertext is corrupt")

// Vault seals values with a key derived from the configured secret.
type Vault struct {
	key [32]byte
}

// NewVault derives the sealing key from secret. With no secret a random
// key is used, so stored values do not survive a restart.
func NewVault(secret string, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Vault{}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		if _, err := io.ReadFull(rand.Reader, v.key[:]); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
		}
		logger.Warn("encryption key is not set; stored credentials will not survive a restart")
		return v, nil
	}
	v.key = sha256.Sum256([]byte(secret))
	return v, nil
}

// Seal returns nonce||box.
func (v *Vault) Seal(plaintext string) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &v.key), nil
}

func (v *Vault) Open(sealed []byte) (string, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", ErrCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &v.key)
	if !ok {
		return "", ErrCorrupt
	}
	return string(out), nil
}
