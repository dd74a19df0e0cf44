// Package store persists policies, their version history, approval records
// and templates through the named queries in internal/core/db.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/solatis/policydesk/internal/core/db"
	"github.com/solatis/policydesk/internal/types"
)

// emptyDocument is stored for policies created without YAML.
const emptyDocument = "[]\n"

// Store is the policy repository.
type Store struct {
	q   *db.Queries
	now func() time.Time
}

// New creates a Store over loaded queries.
func New(q *db.Queries) *Store {
	return &Store{q: q, now: time.Now}
}

// PolicyInput carries the editable fields of a policy.
type PolicyInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	YAML        string `json:"yaml"`
	ChangeLog   string `json:"change_log"`
}

func (in PolicyInput) normalized() (PolicyInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, types.ErrEmptyName
	}
	if strings.TrimSpace(in.YAML) == "" {
		in.YAML = emptyDocument
	}
	return in, nil
}

// ListFilter narrows List. Zero values match everything except archived
// policies, which only show up when asked for by status.
type ListFilter struct {
	Status   types.Status
	Category string
	Search   string
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// Create stores a new draft policy at version 1.
func (s *Store) Create(ctx context.Context, in PolicyInput, actor string) (types.Policy, error) {
	in, err := in.normalized()
	if err != nil {
		return types.Policy{}, err
	}

	now := s.timestamp()
	p := types.Policy{
		ID:          types.NewPolicyID(),
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		YAML:        in.YAML,
		Status:      types.StatusDraft,
		Version:     1,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	changeLog := in.ChangeLog
	if changeLog == "" {
		changeLog = "created"
	}

	err = s.q.InTx(ctx, func(tx *db.Queries) error {
		if _, err := tx.Exec(ctx, "insert-policy",
			p.ID, p.Name, p.Description, p.Category, p.YAML, p.Status,
			p.Version, p.ActiveVersion, p.CreatedBy, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert policy: %w", err)
		}
		return insertVersion(ctx, tx, p, changeLog, actor, now)
	})
	if err != nil {
		return types.Policy{}, err
	}
	return p, nil
}

func insertVersion(ctx context.Context, q *db.Queries, p types.Policy, changeLog, actor string, at time.Time) error {
	if _, err := q.Exec(ctx, "insert-policy-version", p.ID, p.Version, p.YAML, changeLog, actor, at); err != nil {
		return fmt.Errorf("insert policy version %d: %w", p.Version, err)
	}
	return nil
}

// Get returns the policy with id.
func (s *Store) Get(ctx context.Context, id types.PolicyID) (types.Policy, error) {
	return getPolicy(ctx, s.q, id)
}

func getPolicy(ctx context.Context, q *db.Queries, id types.PolicyID) (types.Policy, error) {
	var p types.Policy
	err := q.Get(ctx, "get-policy", &p, id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Policy{}, fmt.Errorf("%w: %s", types.ErrPolicyNotFound, id)
	}
	if err != nil {
		return types.Policy{}, fmt.Errorf("get policy %s: %w", id, err)
	}
	return p, nil
}

// List returns policies matching f, most recently updated first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]types.Policy, error) {
	var (
		policies []types.Policy
		err      error
	)
	if f.Status != "" {
		err = s.q.Select(ctx, "list-policies-by-status", &policies, f.Status)
	} else {
		err = s.q.Select(ctx, "list-policies", &policies)
	}
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := policies[:0]
	for _, p := range policies {
		if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// PendingApproval lists policies waiting for a reviewer.
func (s *Store) PendingApproval(ctx context.Context) ([]types.Policy, error) {
	return s.List(ctx, ListFilter{Status: types.StatusPendingApproval})
}

// Update writes a new version of the policy. Rejected policies return to
// draft; active policies stay active on their approved version until the
// new one is submitted and approved.
func (s *Store) Update(ctx context.Context, id types.PolicyID, in PolicyInput, actor string) (types.Policy, error) {
	in, err := in.normalized()
	if err != nil {
		return types.Policy{}, err
	}

	var p types.Policy
	err = s.q.InTx(ctx, func(tx *db.Queries) error {
		cur, err := getPolicy(ctx, tx, id)
		if err != nil {
			return err
		}
		switch cur.Status {
		case types.StatusArchived, types.StatusPendingApproval:
			return fmt.Errorf("%w: cannot edit a %s policy", types.ErrInvalidTransition, cur.Status)
		case types.StatusRejected:
			cur.Status = types.StatusDraft
		}

		now := s.timestamp()
		cur.Name = in.Name
		cur.Description = in.Description
		cur.Category = in.Category
		cur.YAML = in.YAML
		cur.Version++
		cur.UpdatedAt = now

		if _, err := tx.Exec(ctx, "update-policy",
			cur.Name, cur.Description, cur.Category, cur.YAML, cur.Status, cur.Version, cur.UpdatedAt, cur.ID,
		); err != nil {
			return fmt.Errorf("update policy: %w", err)
		}
		changeLog := in.ChangeLog
		if changeLog == "" {
			changeLog = fmt.Sprintf("updated to version %d", cur.Version)
		}
		if err := insertVersion(ctx, tx, cur, changeLog, actor, now); err != nil {
			return err
		}
		p = cur
		return nil
	})
	if err != nil {
		return types.Policy{}, err
	}
	return p, nil
}

// Archive retires a policy. Archived policies are hidden from List and can
// no longer be edited.
func (s *Store) Archive(ctx context.Context, id types.PolicyID) (types.Policy, error) {
	return s.transition(ctx, id, func(p *types.Policy) (types.Decision, error) {
		if p.Status == types.StatusArchived {
			return "", fmt.Errorf("%w: policy already archived", types.ErrInvalidTransition)
		}
		p.Status = types.StatusArchived
		return "", nil
	}, "", "")
}

// Submit sends the current version for approval.
func (s *Store) Submit(ctx context.Context, id types.PolicyID, actor, comment string) (types.Policy, error) {
	return s.transition(ctx, id, func(p *types.Policy) (types.Decision, error) {
		switch {
		case p.Status == types.StatusDraft, p.Status == types.StatusRejected:
		case p.Status == types.StatusActive && p.Version != p.ActiveVersion:
		default:
			return "", fmt.Errorf("%w: cannot submit a %s policy", types.ErrInvalidTransition, p.Status)
		}
		p.Status = types.StatusPendingApproval
		return types.DecisionSubmitted, nil
	}, actor, comment)
}

// Approve activates the pending version.
func (s *Store) Approve(ctx context.Context, id types.PolicyID, actor, comment string) (types.Policy, error) {
	return s.transition(ctx, id, func(p *types.Policy) (types.Decision, error) {
		if p.Status != types.StatusPendingApproval {
			return "", fmt.Errorf("%w: cannot approve a %s policy", types.ErrInvalidTransition, p.Status)
		}
		p.Status = types.StatusActive
		p.ActiveVersion = p.Version
		return types.DecisionApproved, nil
	}, actor, comment)
}

// Reject sends a pending policy back to its author. A previously approved
// version stays recorded in ActiveVersion.
func (s *Store) Reject(ctx context.Context, id types.PolicyID, actor, comment string) (types.Policy, error) {
	return s.transition(ctx, id, func(p *types.Policy) (types.Decision, error) {
		if p.Status != types.StatusPendingApproval {
			return "", fmt.Errorf("%w: cannot reject a %s policy", types.ErrInvalidTransition, p.Status)
		}
		p.Status = types.StatusRejected
		return types.DecisionRejected, nil
	}, actor, comment)
}

// Activate makes an existing version the active one (rollback or roll
// forward). It is recorded as an approval of that version.
func (s *Store) Activate(ctx context.Context, id types.PolicyID, version int, actor, comment string) (types.Policy, error) {
	var p types.Policy
	err := s.q.InTx(ctx, func(tx *db.Queries) error {
		if _, err := getVersion(ctx, tx, id, version); err != nil {
			return err
		}
		var err error
		p, err = s.transitionTx(ctx, tx, id, func(p *types.Policy) (types.Decision, error) {
			if p.Status == types.StatusArchived || p.Status == types.StatusPendingApproval {
				return "", fmt.Errorf("%w: cannot activate a version of a %s policy", types.ErrInvalidTransition, p.Status)
			}
			p.Status = types.StatusActive
			p.ActiveVersion = version
			return types.DecisionApproved, nil
		}, version, actor, orDefault(comment, fmt.Sprintf("activated version %d", version)))
		return err
	})
	if err != nil {
		return types.Policy{}, err
	}
	return p, nil
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

type transitionFunc func(p *types.Policy) (types.Decision, error)

func (s *Store) transition(ctx context.Context, id types.PolicyID, fn transitionFunc, actor, comment string) (types.Policy, error) {
	var p types.Policy
	err := s.q.InTx(ctx, func(tx *db.Queries) error {
		var err error
		p, err = s.transitionTx(ctx, tx, id, fn, 0, actor, comment)
		return err
	})
	if err != nil {
		return types.Policy{}, err
	}
	return p, nil
}

// transitionTx applies fn to the current policy, persists the status change
// and records the returned decision, if any, against version (0 means the
// policy's current version).
func (s *Store) transitionTx(ctx context.Context, tx *db.Queries, id types.PolicyID, fn transitionFunc, version int, actor, comment string) (types.Policy, error) {
	p, err := getPolicy(ctx, tx, id)
	if err != nil {
		return types.Policy{}, err
	}
	decision, err := fn(&p)
	if err != nil {
		return types.Policy{}, err
	}

	now := s.timestamp()
	p.UpdatedAt = now
	if _, err := tx.Exec(ctx, "update-policy-status", p.Status, p.ActiveVersion, p.UpdatedAt, p.ID); err != nil {
		return types.Policy{}, fmt.Errorf("update policy status: %w", err)
	}

	if decision != "" {
		if version == 0 {
			version = p.Version
		}
		if _, err := tx.Exec(ctx, "insert-approval",
			types.NewApprovalID(), p.ID, version, decision, actor, comment, now,
		); err != nil {
			return types.Policy{}, fmt.Errorf("record %s: %w", decision, err)
		}
	}
	return p, nil
}

// Versions returns the version history, newest first, marking the active one.
func (s *Store) Versions(ctx context.Context, id types.PolicyID) ([]types.PolicyVersion, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var versions []types.PolicyVersion
	if err := s.q.Select(ctx, "list-policy-versions", &versions, id); err != nil {
		return nil, fmt.Errorf("list policy versions: %w", err)
	}
	for i := range versions {
		versions[i].IsActive = versions[i].Version == p.ActiveVersion
	}
	return versions, nil
}

// Version returns one stored version.
func (s *Store) Version(ctx context.Context, id types.PolicyID, version int) (types.PolicyVersion, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return types.PolicyVersion{}, err
	}
	v, err := getVersion(ctx, s.q, id, version)
	if err != nil {
		return types.PolicyVersion{}, err
	}
	v.IsActive = v.Version == p.ActiveVersion
	return v, nil
}

func getVersion(ctx context.Context, q *db.Queries, id types.PolicyID, version int) (types.PolicyVersion, error) {
	var v types.PolicyVersion
	err := q.Get(ctx, "get-policy-version", &v, id, version)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PolicyVersion{}, fmt.Errorf("%w: %s version %d", types.ErrVersionNotFound, id, version)
	}
	if err != nil {
		return types.PolicyVersion{}, fmt.Errorf("get policy version: %w", err)
	}
	return v, nil
}

// ApprovalHistory returns every approval record for the policy, oldest first.
func (s *Store) ApprovalHistory(ctx context.Context, id types.PolicyID) ([]types.ApprovalRecord, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	var records []types.ApprovalRecord
	if err := s.q.Select(ctx, "list-approvals", &records, id); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return records, nil
}

// Templates lists the seeded policy templates.
func (s *Store) Templates(ctx context.Context) ([]types.PolicyTemplate, error) {
	var templates []types.PolicyTemplate
	if err := s.q.Select(ctx, "list-templates", &templates); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// Template returns one template.
func (s *Store) Template(ctx context.Context, id string) (types.PolicyTemplate, error) {
	var t types.PolicyTemplate
	err := s.q.Get(ctx, "get-template", &t, id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PolicyTemplate{}, fmt.Errorf("%w: %s", types.ErrTemplateNotFound, id)
	}
	if err != nil {
		return types.PolicyTemplate{}, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// CloneTemplate creates a draft policy from a template. An empty name falls
// back to the template's name.
func (s *Store) CloneTemplate(ctx context.Context, templateID, name, actor string) (types.Policy, error) {
	t, err := s.Template(ctx, templateID)
	if err != nil {
		return types.Policy{}, err
	}
	return s.Create(ctx, PolicyInput{
		Name:        orDefault(strings.TrimSpace(name), t.Name),
		Description: t.Description,
		Category:    t.Category,
		YAML:        t.YAML,
		ChangeLog:   "cloned from template " + t.ID,
	}, actor)
}
