// Package identity supplies the device-bound byte string that key
// derivation consumes. The same device must yield the same identity across
// reboots; records written under one identity are unrecoverable under
// another.
package identity

import (
	"bytes"
	"os"

	"github.com/kanakamedala-rajesh/SecureStorage/secerr"
)

// Provider yields a stable, non-empty device identity.
type Provider interface {
	Identity() ([]byte, error)
}

// Static wraps a fixed byte string, for tests and devices with a known
// serial.
type Static []byte

func (s Static) Identity() ([]byte, error) {
	if len(s) == 0 {
		return nil, secerr.E(secerr.KindInvalidArgument, "identity.Static", nil)
	}
	out := make([]byte, len(s))
	copy(out, s)
	return out, nil
}

var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// MachineID reads the systemd machine id, falling back to the dbus copy.
type MachineID struct{}

func (MachineID) Identity() ([]byte, error) {
	var lastErr error
	for _, p := range machineIDPaths {
		raw, err := os.ReadFile(p)
		if err != nil {
			lastErr = err
			continue
		}
		id := bytes.TrimSpace(raw)
		if len(id) == 0 {
			continue
		}
		return id, nil
	}
	return nil, secerr.E(secerr.KindOperationFailed, "identity.MachineID", lastErr)
}
