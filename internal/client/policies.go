package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/solatis/policydesk/internal/layers"
	"github.com/solatis/policydesk/internal/rules"
	"github.com/solatis/policydesk/internal/types"
	"github.com/solatis/policydesk/internal/validate"
)

// PolicyInput is the body of create and update. Strict saves fail with 422
// unless the document validates.
type PolicyInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	YAML        string `json:"yaml"`
	ChangeLog   string `json:"change_log,omitempty"`
	Strict      bool   `json:"strict,omitempty"`
}

// ListOptions filters ListPolicies.
type ListOptions struct {
	Status   types.Status
	Category string
	Search   string
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Status != "" {
		q.Set("status", string(o.Status))
	}
	if o.Category != "" {
		q.Set("category", o.Category)
	}
	if o.Search != "" {
		q.Set("search", o.Search)
	}
	return q
}

func policyPath(id types.PolicyID, rest ...string) string {
	p := "/api/policies/" + seg(string(id))
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) ListPolicies(ctx context.Context, opts ListOptions) ([]types.Policy, error) {
	var out []types.Policy
	err := c.get(ctx, "/api/policies", opts.query(), &out)
	return out, err
}

// PendingApproval lists the approval queue.
func (c *Client) PendingApproval(ctx context.Context) ([]types.Policy, error) {
	var out []types.Policy
	err := c.get(ctx, "/api/policies/pending-approval", nil, &out)
	return out, err
}

func (c *Client) GetPolicy(ctx context.Context, id types.PolicyID) (types.Policy, error) {
	var out types.Policy
	err := c.get(ctx, policyPath(id), nil, &out)
	return out, err
}

// CreatePolicy refuses an empty name before calling the server.
func (c *Client) CreatePolicy(ctx context.Context, in PolicyInput) (types.Policy, error) {
	if in.Name == "" {
		return types.Policy{}, types.ErrEmptyName
	}
	var out types.Policy
	err := c.post(ctx, "/api/policies", in, &out)
	return out, err
}

func (c *Client) UpdatePolicy(ctx context.Context, id types.PolicyID, in PolicyInput) (types.Policy, error) {
	if in.Name == "" {
		return types.Policy{}, types.ErrEmptyName
	}
	var out types.Policy
	err := c.put(ctx, policyPath(id), in, &out)
	return out, err
}

// ArchivePolicy is the DELETE of a policy.
func (c *Client) ArchivePolicy(ctx context.Context, id types.PolicyID) (types.Policy, error) {
	var out types.Policy
	err := c.delete(ctx, policyPath(id), &out)
	return out, err
}

// validationWire accepts both structured issues and the bare strings older
// servers return.
type validationWire struct {
	Valid    bool              `json:"valid"`
	Errors   []json.RawMessage `json:"errors"`
	Warnings []json.RawMessage `json:"warnings"`
	Metadata validate.Metadata `json:"metadata"`
}

func decodeIssues(raw []json.RawMessage) ([]validate.Issue, error) {
	issues := make([]validate.Issue, 0, len(raw))
	for _, r := range raw {
		var msg string
		if json.Unmarshal(r, &msg) == nil {
			issues = append(issues, validate.IssueFromMessage(msg))
			continue
		}
		var issue validate.Issue
		if err := json.Unmarshal(r, &issue); err != nil {
			return nil, fmt.Errorf("decode validation issue: %w", err)
		}
		if issue.Kind == "" {
			issue.Kind = validate.ClassifyMessage(issue.Message)
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// ValidatePolicy posts doc to /validate; use id "new" for unsaved policies.
// When the caller is not authorised the check is skipped: skipped is true and
// err is nil.
func (c *Client) ValidatePolicy(ctx context.Context, id types.PolicyID, doc string) (res validate.Result, skipped bool, err error) {
	var wire validationWire
	err = c.post(ctx, policyPath(id, "validate"), map[string]string{"yaml": doc}, &wire)
	if errors.Is(err, ErrUnauthorized) {
		return validate.Result{}, true, nil
	}
	if err != nil {
		return validate.Result{}, false, err
	}

	res = validate.Result{Valid: wire.Valid, Metadata: wire.Metadata}
	if res.Errors, err = decodeIssues(wire.Errors); err != nil {
		return validate.Result{}, false, err
	}
	if res.Warnings, err = decodeIssues(wire.Warnings); err != nil {
		return validate.Result{}, false, err
	}
	return res, false, nil
}

// TestOptions selects what /test evaluates. YAML wins over Version; with
// neither the server uses the active version.
type TestOptions struct {
	YAML    string
	Version int
}

// TestResult is a decision plus the version it was made against.
type TestResult struct {
	rules.Decision
	PolicyID types.PolicyID `json:"policy_id,omitempty"`
	Version  int            `json:"version,omitempty"`
}

func (c *Client) TestPolicy(ctx context.Context, id types.PolicyID, payload json.RawMessage, opts TestOptions) (TestResult, error) {
	body := map[string]any{"payload": payload}
	if opts.YAML != "" {
		body["yaml"] = opts.YAML
	}
	if opts.Version > 0 {
		body["version"] = opts.Version
	}
	var out TestResult
	err := c.post(ctx, policyPath(id, "test"), body, &out)
	return out, err
}

func (c *Client) decide(ctx context.Context, id types.PolicyID, action, comment string) (types.Policy, error) {
	var in any
	if comment != "" {
		in = map[string]string{"comment": comment}
	}
	var out types.Policy
	err := c.post(ctx, policyPath(id, action), in, &out)
	return out, err
}

func (c *Client) SubmitPolicy(ctx context.Context, id types.PolicyID, comment string) (types.Policy, error) {
	return c.decide(ctx, id, "submit", comment)
}

func (c *Client) ApprovePolicy(ctx context.Context, id types.PolicyID, comment string) (types.Policy, error) {
	return c.decide(ctx, id, "approve", comment)
}

func (c *Client) RejectPolicy(ctx context.Context, id types.PolicyID, comment string) (types.Policy, error) {
	return c.decide(ctx, id, "reject", comment)
}

// Rollback activates an earlier version.
func (c *Client) Rollback(ctx context.Context, id types.PolicyID, version int) (types.Policy, error) {
	q := url.Values{"version": []string{strconv.Itoa(version)}}
	var out types.Policy
	err := c.doJSON(ctx, http.MethodPost, policyPath(id, "activate"), q, nil, &out)
	return out, err
}

// Versions lists the version history, newest first.
func (c *Client) Versions(ctx context.Context, id types.PolicyID) ([]types.PolicyVersion, error) {
	var out []types.PolicyVersion
	err := c.get(ctx, policyPath(id, "versions"), nil, &out)
	return out, err
}

func (c *Client) Version(ctx context.Context, id types.PolicyID, version int) (types.PolicyVersion, error) {
	var out types.PolicyVersion
	err := c.get(ctx, policyPath(id, "versions", strconv.Itoa(version)), nil, &out)
	return out, err
}

func (c *Client) ApprovalHistory(ctx context.Context, id types.PolicyID) ([]types.ApprovalRecord, error) {
	var out []types.ApprovalRecord
	err := c.get(ctx, policyPath(id, "approval-history"), nil, &out)
	return out, err
}

func (c *Client) Templates(ctx context.Context) ([]types.PolicyTemplate, error) {
	var out []types.PolicyTemplate
	err := c.get(ctx, "/api/policy-templates", nil, &out)
	return out, err
}

// CloneTemplate creates a draft policy from a template.
func (c *Client) CloneTemplate(ctx context.Context, templateID, name string) (types.Policy, error) {
	var out types.Policy
	err := c.post(ctx, "/api/policy-templates/"+seg(templateID)+"/clone", map[string]string{"name": name}, &out)
	return out, err
}

func (c *Client) GetLayers(ctx context.Context, assetID string) (layers.AssetLayers, error) {
	var out layers.AssetLayers
	err := c.get(ctx, "/api/layers/"+seg(assetID), nil, &out)
	return out, err
}

func (c *Client) PutLayers(ctx context.Context, assetID string, a layers.AssetLayers) (layers.AssetLayers, error) {
	var out layers.AssetLayers
	err := c.put(ctx, "/api/layers/"+seg(assetID), a, &out)
	return out, err
}
