// Package decrypt implements the optional end-to-end decryption adapter
//: encrypted task fields arrive as base64 ciphertext under
// AES-GCM-256, keyed by a key fetched once per process from an OS-specific
// keychain helper subprocess. Any failure (wrong version, bad key, missing
// helper) falls back to returning the original value unchanged.
package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"

	"github.com/MasslessAI/push-claude-plugin/internal/contracts"
)

const (
	supportedVersion = 0
	nonceSize        = 12
	tagSize          = 16
	versionSize      = 1
)

// KeyProvider fetches the symmetric key once per process. Implemented by
// the keychain subprocess adapter; nil means decrypt is a pass-through.
type KeyProvider interface {
	Key() ([]byte, bool)
}

// Adapter decrypts task fields, caching the key for the life of the process.
type Adapter struct {
	provider KeyProvider
	key      []byte
	fetched  bool
}

var _ contracts.Decryptor = (*Adapter)(nil)

// New returns an Adapter backed by provider. A nil provider makes every
// call to Decrypt a pass-through, matching the "helper absent" case.
func New(provider KeyProvider) *Adapter {
	return &Adapter{provider: provider}
}

// Decrypt attempts to decrypt ciphertextB64. It returns (plaintext, true)
// on success, or (ciphertextB64, false) unchanged on any failure: missing
// helper, unsupported version, bad key, or malformed framing.
func (a *Adapter) Decrypt(ciphertextB64 string) (string, bool) {
	key, ok := a.resolveKey()
	if !ok {
		return ciphertextB64, false
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return ciphertextB64, false
	}
	if len(raw) < versionSize+nonceSize+tagSize {
		return ciphertextB64, false
	}

	version := raw[0]
	if version != supportedVersion {
		return ciphertextB64, false
	}

	nonce := raw[versionSize : versionSize+nonceSize]
	ciphertextAndTag := raw[versionSize+nonceSize:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return ciphertextB64, false
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return ciphertextB64, false
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertextAndTag, nil)
	if err != nil {
		return ciphertextB64, false
	}

	return string(plaintext), true
}

// resolveKey fetches and caches the key on first use; subsequent calls
// reuse it for the life of the process.
func (a *Adapter) resolveKey() ([]byte, bool) {
	if a.fetched {
		return a.key, a.key != nil
	}
	a.fetched = true
	if a.provider == nil {
		return nil, false
	}
	key, ok := a.provider.Key()
	if !ok || len(key) != 32 {
		return nil, false
	}
	a.key = key
	return a.key, true
}

// DecryptTaskFields runs the decrypt adapter over a task's encrypted
// fields in place; pass-through values are left as-is.
func DecryptTaskFields(d contracts.Decryptor, task contracts.Task) contracts.Task {
	if !task.Encrypted || d == nil {
		return task
	}
	if plain, ok := d.Decrypt(task.Summary); ok {
		task.Summary = plain
	}
	if plain, ok := d.Decrypt(task.Content); ok {
		task.Content = plain
	}
	if task.OriginalTranscript != "" {
		if plain, ok := d.Decrypt(task.OriginalTranscript); ok {
			task.OriginalTranscript = plain
		}
	}
	return task
}
