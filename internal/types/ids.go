package types

import (
	"time"

	"github.com/google/uuid"
)

// NewPolicyID generates a UUIDv7 policy identifier.
// Time-ordered IDs keep sequential inserts clustered in B-tree pages.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewPolicyID() PolicyID {
	return PolicyID(uuid.Must(uuid.NewV7()).String())
}

// NewApprovalID generates a UUIDv7 approval record identifier.
func NewApprovalID() ApprovalID {
	return ApprovalID(uuid.Must(uuid.NewV7()).String())
}

// NewNodeID generates a random condition node identifier.
// Node ids never leave an editing session, so ordering is irrelevant.
func NewNodeID() NodeID {
	return NodeID(uuid.NewString())
}

// ParsePolicyID validates and converts a string to PolicyID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the system.
func ParsePolicyID(s string) (PolicyID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return PolicyID(s), nil
}

// PolicyIDTime extracts the creation timestamp embedded in a UUIDv7 policy ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func PolicyIDTime(id PolicyID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
