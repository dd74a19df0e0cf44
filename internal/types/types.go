// Package types provides domain models shared across policydesk components.
//
// Policy documents, rules and condition trees are defined here so that the
// editor (condtree), codec (policydoc), validator, evaluator (rules), storage
// and HTTP layers agree on one model. Only encoding/json and uuid are
// imported; YAML handling lives in policydoc.
package types

import "time"

// PolicyID represents a UUIDv7 policy identifier.
type PolicyID string

// ApprovalID represents a UUIDv7 approval record identifier.
type ApprovalID string

// NodeID identifies a node in a condition tree arena.
type NodeID string

// Status is the lifecycle state of a policy.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusActive          Status = "active"
	StatusRejected        Status = "rejected"
	StatusArchived        Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusActive, StatusRejected, StatusArchived:
		return true
	}
	return false
}

// Decision is the approval-history entry type.
type Decision string

const (
	DecisionSubmitted Decision = "submitted"
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
)

// Policy is a named, versioned set of rules stored as YAML.
type Policy struct {
	ID            PolicyID  `json:"id" db:"policy_id"`
	Name          string    `json:"name" db:"name"`
	Description   string    `json:"description" db:"description"`
	Category      string    `json:"category" db:"category"`
	YAML          string    `json:"yaml" db:"yaml"`
	Status        Status    `json:"status" db:"status"`
	Version       int       `json:"version" db:"version"`
	ActiveVersion int       `json:"active_version" db:"active_version"`
	CreatedBy     string    `json:"created_by" db:"created_by"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// PolicyVersion is an immutable snapshot written on every create/update.
type PolicyVersion struct {
	PolicyID  PolicyID  `json:"policy_id" db:"policy_id"`
	Version   int       `json:"version" db:"version"`
	YAML      string    `json:"yaml" db:"yaml"`
	ChangeLog string    `json:"change_log" db:"change_log"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	IsActive  bool      `json:"is_active" db:"-"`
}

// ApprovalRecord is one entry of a policy's approval history.
type ApprovalRecord struct {
	ID        ApprovalID `json:"id" db:"approval_id"`
	PolicyID  PolicyID   `json:"policy_id" db:"policy_id"`
	Version   int        `json:"version" db:"version"`
	Decision  Decision   `json:"decision" db:"decision"`
	Actor     string     `json:"actor" db:"actor"`
	Comment   string     `json:"comment" db:"comment"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// PolicyTemplate is a reusable starting point for new policies.
type PolicyTemplate struct {
	ID          string `json:"id" db:"template_id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	Category    string `json:"category" db:"category"`
	YAML        string `json:"yaml" db:"yaml"`
}

// Resource limits enforced when compiling and evaluating rules.
const (
	// MinPriority and MaxPriority bound Rule.Priority.
	MinPriority = 0
	MaxPriority = 100

	// MaxPathDepth prevents unbounded recursion during field path resolution.
	MaxPathDepth = 16

	// MaxNestedWildcards limits [*] segments per field path.
	MaxNestedWildcards = 2

	// MaxInOperatorValues limits in/not_in list size.
	MaxInOperatorValues = 256

	// MaxConditionDepth limits any/all nesting in a single rule.
	MaxConditionDepth = 32
)
