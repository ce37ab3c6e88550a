package rtm

import (
	"errors"
	"strings"
)

// Capability is a program-level grouping of Epics. Created administratively;
// rarely mutated; never deleted while any Epic references it.
type Capability struct {
	ID          string // CAP-NNNNN
	Name        string
	Description string
}

var (
	// ErrCapabilityIDInvalid indicates the capability ID does not match CAP-NNNNN.
	ErrCapabilityIDInvalid = errors.New("capability id must match CAP-NNNNN")

	// ErrCapabilityNameEmpty indicates name is required.
	ErrCapabilityNameEmpty = errors.New("capability name cannot be empty")
)

// Validate performs domain validation on the Capability.
func (c *Capability) Validate() error {
	if !strings.HasPrefix(c.ID, CapabilityIDPrefix) || !IsValidID(c.ID) {
		return ErrCapabilityIDInvalid
	}

	if strings.TrimSpace(c.Name) == "" {
		return ErrCapabilityNameEmpty
	}

	return nil
}
