package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/solatis/policydesk/internal/rules"
	"github.com/solatis/policydesk/internal/types"
)

// newPolicyID lets editors validate a document before the policy exists.
const newPolicyID = "new"

type validateRequest struct {
	YAML *string `json:"yaml"`
}

// validatePolicy validates the YAML in the body, or the stored document when
// the body has none. It always answers 200; validity is in the result.
func (s *Service) validatePolicy(c *gin.Context) {
	var req validateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	var doc string
	switch {
	case req.YAML != nil:
		doc = *req.YAML
	case c.Param("id") == newPolicyID:
		badRequest(c, "yaml is required when validating an unsaved policy")
		return
	default:
		id, ok := policyID(c)
		if !ok {
			return
		}
		p, err := s.store.Get(c.Request.Context(), id)
		if err != nil {
			s.respondError(c, err)
			return
		}
		doc = p.YAML
	}

	c.JSON(http.StatusOK, s.validator.Validate([]byte(doc)))
}

type testRequest struct {
	// Payload is the transaction evaluated against the policy.
	Payload json.RawMessage `json:"payload" binding:"required"`
	// YAML overrides the stored document, for testing unsaved edits.
	YAML *string `json:"yaml"`
	// Version selects a stored version; default is the active version, or
	// the latest when none is active.
	Version int `json:"version"`
}

type testResponse struct {
	rules.Decision
	PolicyID types.PolicyID `json:"policy_id,omitempty"`
	Version  int            `json:"version,omitempty"`
}

func (s *Service) testPolicy(c *gin.Context) {
	var req testRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if req.YAML != nil {
		cp, err := rules.CompileDocument(*req.YAML)
		if err != nil {
			s.respondError(c, err)
			return
		}
		d, err := rules.EvaluatePolicy(cp, req.Payload)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, testResponse{Decision: d})
		return
	}

	id, ok := policyID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	p, err := s.store.Get(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	version := req.Version
	if version == 0 {
		version = p.ActiveVersion
	}
	if version == 0 {
		version = p.Version
	}
	v, err := s.store.Version(ctx, id, version)
	if err != nil {
		s.respondError(c, err)
		return
	}

	d, err := s.engine.Test(id, version, v.YAML, req.Payload)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.logger.Debug("policy tested",
		zap.String("policy_id", string(id)),
		zap.Int("version", version),
		zap.String("decision", string(d.Decision)))
	c.JSON(http.StatusOK, testResponse{Decision: d, PolicyID: id, Version: version})
}
