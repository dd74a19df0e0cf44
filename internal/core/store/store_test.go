package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/policydesk/internal/core/db"
	"github.com/solatis/policydesk/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = db.MigrateUp(ctx, conn)
	require.NoError(t, err)
	q, err := db.LoadQueries(conn)
	require.NoError(t, err)

	s := New(q)
	clock := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

const screeningYAML = "- name: sanctions\n  when: {field: country, op: eq, value: KP}\n  action: block\n  priority: 100\n"

func TestStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Create(ctx, PolicyInput{Name: "   "}, "alice")
	assert.ErrorIs(t, err, types.ErrEmptyName)

	p, err := s.Create(ctx, PolicyInput{Name: " Screening ", Category: "compliance", YAML: screeningYAML}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Screening", p.Name)
	assert.Equal(t, types.StatusDraft, p.Status)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, 0, p.ActiveVersion)

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, screeningYAML, got.YAML)
	assert.Equal(t, "alice", got.CreatedBy)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))

	empty, err := s.Create(ctx, PolicyInput{Name: "blank"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", empty.YAML)

	_, err = s.Get(ctx, types.NewPolicyID())
	assert.ErrorIs(t, err, types.ErrPolicyNotFound)
}

func TestStore_UpdateAppendsVersions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.Create(ctx, PolicyInput{Name: "limits", YAML: "[]\n"}, "alice")
	require.NoError(t, err)

	p, err = s.Update(ctx, p.ID, PolicyInput{Name: "limits", YAML: screeningYAML, ChangeLog: "add sanctions"}, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)

	versions, err := s.Versions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, "add sanctions", versions[0].ChangeLog)
	assert.Equal(t, "bob", versions[0].CreatedBy)
	assert.Equal(t, "created", versions[1].ChangeLog)

	v1, err := s.Version(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", v1.YAML)

	_, err = s.Version(ctx, p.ID, 9)
	assert.ErrorIs(t, err, types.ErrVersionNotFound)

	_, err = s.Update(ctx, types.NewPolicyID(), PolicyInput{Name: "x"}, "bob")
	assert.ErrorIs(t, err, types.ErrPolicyNotFound)
}

func TestStore_ApprovalFlow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.Create(ctx, PolicyInput{Name: "flow", YAML: screeningYAML}, "alice")
	require.NoError(t, err)

	_, err = s.Approve(ctx, p.ID, "carol", "")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	p, err = s.Submit(ctx, p.ID, "alice", "please review")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingApproval, p.Status)

	pending, err := s.PendingApproval(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, p.ID, pending[0].ID)

	_, err = s.Update(ctx, p.ID, PolicyInput{Name: "flow"}, "alice")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	p, err = s.Reject(ctx, p.ID, "carol", "too broad")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, p.Status)

	p, err = s.Update(ctx, p.ID, PolicyInput{Name: "flow", YAML: screeningYAML}, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDraft, p.Status)

	_, err = s.Submit(ctx, p.ID, "alice", "")
	require.NoError(t, err)
	p, err = s.Approve(ctx, p.ID, "carol", "ok")
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, p.Status)
	assert.Equal(t, 2, p.ActiveVersion)

	// An active policy at its approved version has nothing to submit.
	_, err = s.Submit(ctx, p.ID, "alice", "")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	history, err := s.ApprovalHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	want := []types.Decision{types.DecisionSubmitted, types.DecisionRejected, types.DecisionSubmitted, types.DecisionApproved}
	for i, rec := range history {
		assert.Equal(t, want[i], rec.Decision, "record %d", i)
	}
	assert.Equal(t, "too broad", history[1].Comment)
	assert.Equal(t, 1, history[1].Version)
	assert.Equal(t, 2, history[3].Version)
}

func TestStore_ActivateRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.Create(ctx, PolicyInput{Name: "rollback"}, "alice")
	require.NoError(t, err)
	p, err = s.Update(ctx, p.ID, PolicyInput{Name: "rollback", YAML: screeningYAML}, "alice")
	require.NoError(t, err)

	p, err = s.Activate(ctx, p.ID, 2, "carol", "")
	require.NoError(t, err)
	assert.Equal(t, 2, p.ActiveVersion)

	p, err = s.Activate(ctx, p.ID, 1, "carol", "")
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, p.Status)
	assert.Equal(t, 1, p.ActiveVersion)

	versions, err := s.Versions(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, versions[0].IsActive)
	assert.True(t, versions[1].IsActive)

	history, err := s.ApprovalHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "activated version 1", history[1].Comment)

	_, err = s.Activate(ctx, p.ID, 7, "carol", "")
	assert.ErrorIs(t, err, types.ErrVersionNotFound)

	// Active policy edited past its approved version can be resubmitted.
	_, err = s.Update(ctx, p.ID, PolicyInput{Name: "rollback", YAML: screeningYAML}, "alice")
	require.NoError(t, err)
	p, err = s.Submit(ctx, p.ID, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingApproval, p.Status)
	assert.Equal(t, 1, p.ActiveVersion)
}

func TestStore_ListAndArchive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.Create(ctx, PolicyInput{Name: "Sanctions", Category: "compliance"}, "alice")
	require.NoError(t, err)
	_, err = s.Create(ctx, PolicyInput{Name: "Large transfers", Description: "AML threshold", Category: "aml"}, "alice")
	require.NoError(t, err)

	all, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Large transfers", all[0].Name, "most recent first")

	byCat, err := s.List(ctx, ListFilter{Category: "COMPLIANCE"})
	require.NoError(t, err)
	require.Len(t, byCat, 1)
	assert.Equal(t, a.ID, byCat[0].ID)

	bySearch, err := s.List(ctx, ListFilter{Search: "threshold"})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)

	_, err = s.Archive(ctx, a.ID)
	require.NoError(t, err)
	_, err = s.Archive(ctx, a.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	all, err = s.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	archived, err := s.List(ctx, ListFilter{Status: types.StatusArchived})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, a.ID, archived[0].ID)

	_, err = s.Update(ctx, a.ID, PolicyInput{Name: "again"}, "alice")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestStore_Templates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	templates, err := s.Templates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 3)

	_, err = s.Template(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrTemplateNotFound)

	p, err := s.CloneTemplate(ctx, "large-transfer-review", "", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Large transfer review", p.Name)
	assert.Equal(t, "aml", p.Category)
	assert.Contains(t, p.YAML, "large-transfer")

	named, err := s.CloneTemplate(ctx, "kyc-incomplete", "Retail KYC", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Retail KYC", named.Name)

	versions, err := s.Versions(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "cloned from template large-transfer-review", versions[0].ChangeLog)
}
