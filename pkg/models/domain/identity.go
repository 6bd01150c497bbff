package domain

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
	StatusUnknown  Status = "unknown"
)

// ParseStatus maps a status string to a Status. Empty input maps to StatusUnknown.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, nil
	case StatusDisabled:
		return StatusDisabled, nil
	case StatusUnknown, "":
		return StatusUnknown, nil
	default:
		return "", fmt.Errorf("unknown identity status %q", s)
	}
}

// Identity is a principal collected from a cloud provider. It is treated as
// read-only for the duration of an audit run; collectors hand out clones.
type Identity struct {
	ID       string
	Name     string
	Email    string
	Status   Status
	Roles    []string
	LastUsed *time.Time // nil when the identity was never observed in use

	// UserManagedKeys counts long-lived keys the owner created for the
	// identity. Zero when the provider reports none.
	UserManagedKeys int
}

// NewIdentity validates its input and returns an Identity that owns copies
// of roles and lastUsed.
func NewIdentity(id, name, email string, status Status, roles []string, lastUsed *time.Time) (Identity, error) {
	identity := Identity{
		ID:       id,
		Name:     name,
		Email:    email,
		Status:   status,
		Roles:    roles,
		LastUsed: lastUsed,
	}.Clone()

	if err := identity.Validate(); err != nil {
		return Identity{}, err
	}
	identity.Status, _ = ParseStatus(string(status))
	return identity, nil
}

func (i Identity) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("identity id cannot be empty")
	}
	if _, err := ParseStatus(string(i.Status)); err != nil {
		return fmt.Errorf("identity %s: %w", i.ID, err)
	}
	return nil
}

func (i Identity) Clone() Identity {
	out := i
	out.Roles = make([]string, len(i.Roles))
	copy(out.Roles, i.Roles)
	if i.LastUsed != nil {
		t := *i.LastUsed
		out.LastUsed = &t
	}
	return out
}

func (i Identity) IsActive() bool {
	return i.Status == StatusActive
}

var lastUsedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp. An empty string means the
// value is absent and yields nil. Timestamps without a zone are read as UTC.
func ParseTimestamp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range lastUsedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid ISO-8601 timestamp %q", s)
}
