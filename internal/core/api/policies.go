package api

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/solatis/policydesk/internal/core/auth"
	"github.com/solatis/policydesk/internal/core/store"
	"github.com/solatis/policydesk/internal/types"
	"github.com/solatis/policydesk/internal/validate"
)

const anonymousActor = "anonymous"

var errBadVersion = errors.New("version query parameter must be a positive integer")

// policyRequest is the body of create and update. Strict saves are rejected
// with 422 unless the document validates.
type policyRequest struct {
	store.PolicyInput
	Strict bool `json:"strict"`
}

// validationFailure is the 422 body of a rejected strict save.
type validationFailure struct {
	ErrorResponse
	Validation validate.Result `json:"validation"`
}

// decisionRequest is the body of submit, approve, reject and activate.
type decisionRequest struct {
	Comment string `json:"comment"`
}

func policyID(c *gin.Context) (types.PolicyID, bool) {
	id, err := types.ParsePolicyID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, NewErrorResponse(http.StatusNotFound, "", types.ErrPolicyNotFound.Error()))
		return "", false
	}
	return id, true
}

// listETag is content addressed: the same policies at the same versions
// always produce the same tag.
func listETag(policies []types.Policy) string {
	keys := make([]string, 0, len(policies))
	for _, p := range policies {
		keys = append(keys, fmt.Sprintf("%s:%d:%s:%d", p.ID, p.Version, p.Status, p.UpdatedAt.UnixNano()))
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
	}
	return fmt.Sprintf(`"%x"`, h.Sum(nil))
}

func (s *Service) listPolicies(c *gin.Context) {
	filter := store.ListFilter{
		Status:   types.Status(c.Query("status")),
		Category: c.Query("category"),
		Search:   c.Query("search"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		badRequest(c, fmt.Sprintf("unknown status %q", filter.Status))
		return
	}

	policies, err := s.store.List(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if policies == nil {
		policies = []types.Policy{}
	}

	etag := listETag(policies)
	c.Header("ETag", etag)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.JSON(http.StatusOK, policies)
}

func (s *Service) pendingApproval(c *gin.Context) {
	policies, err := s.store.PendingApproval(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if policies == nil {
		policies = []types.Policy{}
	}
	c.JSON(http.StatusOK, policies)
}

func (s *Service) getPolicy(c *gin.Context) {
	id, ok := policyID(c)
	if !ok {
		return
	}
	p, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// checkStrict validates the document of a strict save and writes the 422
// response when it fails.
func (s *Service) checkStrict(c *gin.Context, req policyRequest) bool {
	if !req.Strict {
		return true
	}
	res := s.validator.Validate([]byte(req.YAML))
	if res.Valid {
		return true
	}
	c.JSON(http.StatusUnprocessableEntity, validationFailure{
		ErrorResponse: NewErrorResponse(http.StatusUnprocessableEntity, "", types.ErrValidationFailed.Error()),
		Validation:    res,
	})
	return false
}

func (s *Service) createPolicy(c *gin.Context) {
	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !s.checkStrict(c, req) {
		return
	}

	p, err := s.store.Create(c.Request.Context(), req.PolicyInput, auth.Actor(c, anonymousActor))
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("policy created", zap.String("policy_id", string(p.ID)), zap.String("name", p.Name))
	c.Header("Location", "/api/policies/"+string(p.ID))
	c.JSON(http.StatusCreated, p)
}

func (s *Service) updatePolicy(c *gin.Context) {
	id, ok := policyID(c)
	if !ok {
		return
	}
	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !s.checkStrict(c, req) {
		return
	}

	p, err := s.store.Update(c.Request.Context(), id, req.PolicyInput, auth.Actor(c, anonymousActor))
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Info("policy updated", zap.String("policy_id", string(p.ID)), zap.Int("version", p.Version))
	c.JSON(http.StatusOK, p)
}

func (s *Service) archivePolicy(c *gin.Context) {
	id, ok := policyID(c)
	if !ok {
		return
	}
	p, err := s.store.Archive(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.engine.Forget(id)
	c.JSON(http.StatusOK, p)
}

type lifecycleFunc func(c *gin.Context, id types.PolicyID, actor, comment string) (types.Policy, error)

func (s *Service) lifecycle(event string, fn lifecycleFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := policyID(c)
		if !ok {
			return
		}
		var req decisionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}
		actor := auth.Actor(c, anonymousActor)
		p, err := fn(c, id, actor, req.Comment)
		if err != nil {
			s.respondError(c, err)
			return
		}
		s.logger.Info("policy "+event,
			zap.String("policy_id", string(id)),
			zap.String("actor", actor),
			zap.String("status", string(p.Status)))
		c.JSON(http.StatusOK, p)
	}
}

func (s *Service) submit(c *gin.Context, id types.PolicyID, actor, comment string) (types.Policy, error) {
	return s.store.Submit(c.Request.Context(), id, actor, comment)
}

func (s *Service) approve(c *gin.Context, id types.PolicyID, actor, comment string) (types.Policy, error) {
	return s.store.Approve(c.Request.Context(), id, actor, comment)
}

func (s *Service) reject(c *gin.Context, id types.PolicyID, actor, comment string) (types.Policy, error) {
	return s.store.Reject(c.Request.Context(), id, actor, comment)
}

// activate reads the version from ?version=.
func (s *Service) activate(c *gin.Context, id types.PolicyID, actor, comment string) (types.Policy, error) {
	version, err := strconv.Atoi(c.Query("version"))
	if err != nil || version < 1 {
		return types.Policy{}, errBadVersion
	}
	p, err := s.store.Activate(c.Request.Context(), id, version, actor, comment)
	if err != nil {
		return types.Policy{}, err
	}
	return p, nil
}

func (s *Service) listVersions(c *gin.Context) {
	id, ok := policyID(c)
	if !ok {
		return
	}
	versions, err := s.store.Versions(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

func (s *Service) getVersion(c *gin.Context) {
	id, ok := policyID(c)
	if !ok {
		return
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		badRequest(c, "version must be an integer")
		return
	}
	v, err := s.store.Version(c.Request.Context(), id, version)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Service) approvalHistory(c *gin.Context) {
	id, ok := policyID(c)
	if !ok {
		return
	}
	records, err := s.store.ApprovalHistory(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if records == nil {
		records = []types.ApprovalRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Service) listTemplates(c *gin.Context) {
	templates, err := s.store.Templates(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

func (s *Service) getTemplate(c *gin.Context) {
	t, err := s.store.Template(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Service) cloneTemplate(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	p, err := s.store.CloneTemplate(c.Request.Context(), c.Param("id"), req.Name, auth.Actor(c, anonymousActor))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Location", "/api/policies/"+string(p.ID))
	c.JSON(http.StatusCreated, p)
}
