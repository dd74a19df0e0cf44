package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solatis/policydesk/internal/core/db"
	"github.com/solatis/policydesk/internal/core/store"
	"github.com/solatis/policydesk/internal/layers"
	"github.com/solatis/policydesk/internal/rules"
	"github.com/solatis/policydesk/internal/types"
	"github.com/solatis/policydesk/internal/validate"
)

const sanctionsYAML = `- name: sanctioned
  when:
    field: counterparty.country
    op: in
    value: [KP, IR]
  action: block
  priority: 100
- name: large
  when:
    field: amount
    op: gt
    value: 10000
  action: flag
  priority: 50
`

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	conn, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = db.MigrateUp(ctx, conn)
	require.NoError(t, err)
	q, err := db.LoadQueries(conn)
	require.NoError(t, err)

	svc, err := NewService(store.New(q), rules.NewEngine(), validate.New(nil), layers.NewStore(), zap.NewNop())
	require.NoError(t, err)
	return NewRouter(svc, RouterOptions{})
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createPolicy(t *testing.T, r http.Handler, name, doc string) types.Policy {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/policies", map[string]any{"name": name, "yaml": doc})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[types.Policy](t, w)
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(nil, rules.NewEngine(), validate.New(nil), layers.NewStore(), nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodGet, HealthPath, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestPolicyCRUD(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/api/policies", map[string]any{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errBody := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, http.StatusBadRequest, errBody.Code)
	assert.Equal(t, "Bad Request", errBody.Message)
	assert.Contains(t, errBody.Description, "name is required")

	p := createPolicy(t, r, "Sanctions", sanctionsYAML)
	assert.Equal(t, types.StatusDraft, p.Status)

	w = do(t, r, http.MethodGet, "/api/policies/"+string(p.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sanctionsYAML, decodeBody[types.Policy](t, w).YAML)

	w = do(t, r, http.MethodPut, "/api/policies/"+string(p.ID), map[string]any{"name": "Sanctions v2", "yaml": sanctionsYAML})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decodeBody[types.Policy](t, w).Version)

	w = do(t, r, http.MethodGet, "/api/policies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[[]types.Policy](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, "Sanctions v2", list[0].Name)

	w = do(t, r, http.MethodGet, "/api/policies/"+string(types.NewPolicyID()), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, r, http.MethodGet, "/api/policies/not-a-uuid", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodDelete, "/api/policies/"+string(p.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.StatusArchived, decodeBody[types.Policy](t, w).Status)

	w = do(t, r, http.MethodPut, "/api/policies/"+string(p.ID), map[string]any{"name": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodGet, "/api/policies?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPolicies_ETag(t *testing.T) {
	r := newTestRouter(t)
	createPolicy(t, r, "a", "")

	w := do(t, r, http.MethodGet, "/api/policies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/api/policies", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotModified, w.Code)

	createPolicy(t, r, "b", "")
	w = do(t, r, http.MethodGet, "/api/policies", nil)
	assert.NotEqual(t, etag, w.Header().Get("ETag"))
}

func TestStrictSave(t *testing.T) {
	r := newTestRouter(t)

	bad := "- name: r\n  action: deny\n"
	w := do(t, r, http.MethodPost, "/api/policies", map[string]any{"name": "strict", "yaml": bad, "strict": true})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decodeBody[validationFailure](t, w)
	assert.False(t, body.Validation.Valid)
	require.NotEmpty(t, body.Validation.Errors)
	assert.Equal(t, validate.KindStructure, body.Validation.Errors[0].Kind)

	w = do(t, r, http.MethodPost, "/api/policies", map[string]any{"name": "lenient", "yaml": bad})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodPost, "/api/policies", map[string]any{"name": "strict", "yaml": sanctionsYAML, "strict": true})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestValidateEndpoint(t *testing.T) {
	r := newTestRouter(t)
	p := createPolicy(t, r, "v", sanctionsYAML)

	w := do(t, r, http.MethodPost, "/api/policies/"+string(p.ID)+"/validate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[validate.Result](t, w)
	assert.True(t, res.Valid)
	assert.Equal(t, 2, res.Metadata.RuleCount)

	w = do(t, r, http.MethodPost, "/api/policies/new/validate", map[string]any{"yaml": "- name: x\n  when: {field: a\n"})
	require.Equal(t, http.StatusOK, w.Code)
	res = decodeBody[validate.Result](t, w)
	assert.False(t, res.Valid)
	assert.Equal(t, validate.KindSyntax, res.Errors[0].Kind)

	w = do(t, r, http.MethodPost, "/api/policies/new/validate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTestEndpoint(t *testing.T) {
	r := newTestRouter(t)
	p := createPolicy(t, r, "t", sanctionsYAML)
	path := "/api/policies/" + string(p.ID) + "/test"

	tests := []struct {
		name        string
		payload     map[string]any
		want        rules.Verdict
		wantMatched string
	}{
		{"blocked", map[string]any{"counterparty": map[string]any{"country": "KP"}, "amount": 50000}, rules.VerdictBlock, "sanctioned"},
		{"flagged", map[string]any{"counterparty": map[string]any{"country": "FR"}, "amount": 50000}, rules.VerdictFlag, "large"},
		{"allowed", map[string]any{"counterparty": map[string]any{"country": "FR"}, "amount": 10}, rules.VerdictAllow, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, path, map[string]any{"payload": tt.payload})
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			res := decodeBody[testResponse](t, w)
			assert.Equal(t, tt.want, res.Decision.Decision)
			assert.Equal(t, tt.wantMatched, res.MatchedRule)
			assert.Equal(t, 1, res.Version)
			assert.Equal(t, 2, res.Evaluated)
		})
	}

	w := do(t, r, http.MethodPost, path, map[string]any{
		"payload": map[string]any{"amount": 1},
		"yaml":    "- name: all\n  when: {}\n  action: block\n  priority: 1\n",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rules.VerdictBlock, decodeBody[testResponse](t, w).Decision.Decision)

	w = do(t, r, http.MethodPost, path, map[string]any{"payload": map[string]any{}, "yaml": "- name: x\n  action: deny\n"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, path, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/policies/new/test", map[string]any{
		"payload": map[string]any{"amount": 1},
		"yaml":    "- name: 5\n  when: {}\n  action: block\n  priority: 1\n",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, w).Description, "name must be a string")

	w = do(t, r, http.MethodPost, path, map[string]any{"payload": map[string]any{}, "version": 4})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApprovalEndpoints(t *testing.T) {
	r := newTestRouter(t)
	p := createPolicy(t, r, "flow", sanctionsYAML)
	base := "/api/policies/" + string(p.ID)

	w := do(t, r, http.MethodPost, base+"/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodPost, base+"/submit", map[string]any{"comment": "ready"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.StatusPendingApproval, decodeBody[types.Policy](t, w).Status)

	w = do(t, r, http.MethodGet, "/api/policies/pending-approval", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]types.Policy](t, w), 1)

	w = do(t, r, http.MethodPost, base+"/approve", map[string]any{"comment": "lgtm"})
	require.Equal(t, http.StatusOK, w.Code)
	approved := decodeBody[types.Policy](t, w)
	assert.Equal(t, types.StatusActive, approved.Status)
	assert.Equal(t, 1, approved.ActiveVersion)

	w = do(t, r, http.MethodPut, base, map[string]any{"name": "flow", "yaml": "[]\n"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, base+"/versions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	versions := decodeBody[[]types.PolicyVersion](t, w)
	require.Len(t, versions, 2)
	assert.True(t, versions[1].IsActive)

	w = do(t, r, http.MethodGet, base+"/versions/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", decodeBody[types.PolicyVersion](t, w).YAML)

	w = do(t, r, http.MethodPost, base+"/activate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodPost, base+"/activate?version=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decodeBody[types.Policy](t, w).ActiveVersion)

	w = do(t, r, http.MethodGet, base+"/approval-history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decodeBody[[]types.ApprovalRecord](t, w)
	require.Len(t, history, 3)
	assert.Equal(t, "ready", history[0].Comment)
	assert.Equal(t, types.DecisionApproved, history[2].Decision)
	assert.Equal(t, anonymousActor, history[2].Actor)
}

func TestTemplateEndpoints(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/policy-templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]types.PolicyTemplate](t, w), 3)

	w = do(t, r, http.MethodGet, "/api/policy-templates/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/policy-templates/sanctions-screening/clone", map[string]any{"name": "Desk A sanctions"})
	require.Equal(t, http.StatusCreated, w.Code)
	p := decodeBody[types.Policy](t, w)
	assert.Equal(t, "Desk A sanctions", p.Name)
	assert.Equal(t, "/api/policies/"+string(p.ID), w.Header().Get("Location"))

	// Seeded templates validate cleanly.
	w = do(t, r, http.MethodPost, "/api/policies/"+string(p.ID)+"/validate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[validate.Result](t, w).Valid)
}

func TestLayerEndpoints(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/layers/farm-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPut, "/api/layers/farm-1", map[string]any{
		"layers": []map[string]any{{"id": "ndvi", "name": "NDVI", "type": "raster", "visible": true, "opacity": 0.5}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody[layers.AssetLayers](t, w)
	assert.Equal(t, "farm-1", got.AssetID)

	w = do(t, r, http.MethodPut, "/api/layers/farm-1", map[string]any{"layers": []map[string]any{{"name": "no id"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/layers/farm-1/overlays", map[string]any{"id": "b1", "name": "Boundary", "kind": "polygon"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[layers.AssetLayers](t, w).Overlays, 1)

	w = do(t, r, http.MethodDelete, "/api/layers/farm-1/overlays/b1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodDelete, "/api/layers/farm-1/overlays/b1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/api/layers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"assets":["farm-1"]}`, w.Body.String())

	w = do(t, r, http.MethodDelete, "/api/layers/farm-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := do(t, r, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "unexpected error", body.Description)
	assert.NotContains(t, w.Body.String(), "boom")
}
