package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MachineIdentity is the stable identity used for claims and branch naming.
// The 8-hex suffix must be stable for the daemon's lifetime to allow branch
// reuse across runs.
type MachineIdentity struct {
	MachineID   string
	MachineName string
	Suffix      string
}

// LoadOrCreateMachineIdentity reads <dir>/machine_id, creating it on first
// use. hostname is injected so tests do not depend on os.Hostname.
func LoadOrCreateMachineIdentity(dir, hostname string) (MachineIdentity, error) {
	path := filepath.Join(dir, "machine_id")

	if content, err := os.ReadFile(path); err == nil {
		machineID := strings.TrimSpace(string(content))
		suffix, ok := suffixOf(machineID)
		if ok {
			return MachineIdentity{MachineID: machineID, MachineName: hostname, Suffix: suffix}, nil
		}
		// Corrupt or unexpected content: fall through and regenerate.
	} else if !os.IsNotExist(err) {
		return MachineIdentity{}, fmt.Errorf("reading machine_id: %w", err)
	}

	suffix := randomHexSuffix()
	machineID := hostname + "-" + suffix

	if err := atomicWriteFile(path, []byte(machineID+"\n"), 0o644); err != nil {
		return MachineIdentity{}, fmt.Errorf("writing machine_id: %w", err)
	}

	return MachineIdentity{MachineID: machineID, MachineName: hostname, Suffix: suffix}, nil
}

func suffixOf(machineID string) (string, bool) {
	idx := strings.LastIndex(machineID, "-")
	if idx < 0 || idx == len(machineID)-1 {
		return "", false
	}
	suffix := machineID[idx+1:]
	if len(suffix) != 8 {
		return "", false
	}
	return suffix, true
}

// randomHexSuffix derives the 8-hex worktree suffix from a fresh random
// UUID, rather than rolling a bespoke random-byte generator.
func randomHexSuffix() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}
