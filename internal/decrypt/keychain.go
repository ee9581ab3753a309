package decrypt

import (
	"bytes"
	"context"
	"encoding/base64"
	"os/exec"
	"strings"
	"time"
)

const keychainTimeout = 5 * time.Second

// KeychainHelper invokes an external binary that returns the symmetric key
// from an OS-specific keychain. The daemon only ever consumes
// its stdout; it never interprets which keychain backend is in use.
type KeychainHelper struct {
	binaryPath string
}

var _ KeyProvider = (*KeychainHelper)(nil)

// NewKeychainHelper returns a helper that shells out to binaryPath. If
// binaryPath is empty or the binary cannot be found, Key reports false and
// the adapter falls back to pass-through, matching "helper absent".
func NewKeychainHelper(binaryPath string) *KeychainHelper {
	return &KeychainHelper{binaryPath: binaryPath}
}

// Available runs the helper with --check, which exits 0 iff a key is
// present.
func (h *KeychainHelper) Available() bool {
	if h.binaryPath == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), keychainTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, h.binaryPath, "--check")
	return cmd.Run() == nil
}

// Key invokes the helper with no arguments; it prints the key to stdout.
func (h *KeychainHelper) Key() ([]byte, bool) {
	if h.binaryPath == "" {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), keychainTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.binaryPath)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, false
	}

	key := bytes.TrimSpace(stdout.Bytes())
	if len(key) == 0 {
		return nil, false
	}
	// The helper may print the key base64-encoded or raw; 32 raw bytes is
	// the only shape the adapter accepts for AES-256.
	if len(key) == 32 {
		return key, true
	}
	decoded, ok := decodeBase64Key(string(key))
	if !ok {
		return nil, false
	}
	return decoded, true
}

func decodeBase64Key(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil || len(decoded) != 32 {
		return nil, false
	}
	return decoded, true
}
