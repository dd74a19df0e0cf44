package rules

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/solatis/policydesk/internal/policydoc"
	"github.com/solatis/policydesk/internal/types"
)

// Engine evaluates policy documents, caching compiled policies by id and
// version. Versions are immutable, so entries never go stale.
type Engine struct {
	mu    sync.RWMutex
	cache map[cacheKey]*CompiledPolicy
}

type cacheKey struct {
	id      types.PolicyID
	version int
}

// NewEngine creates a new rules engine instance.
func NewEngine() *Engine {
	return &Engine{cache: make(map[cacheKey]*CompiledPolicy)}
}

// Load returns the compiled form of a stored policy version.
func (e *Engine) Load(id types.PolicyID, version int, doc string) (*CompiledPolicy, error) {
	key := cacheKey{id: id, version: version}

	e.mu.RLock()
	cp, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return cp, nil
	}

	cp, err := CompileDocument(doc)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[key] = cp
	e.mu.Unlock()
	return cp, nil
}

// Test evaluates payload against a stored policy version.
func (e *Engine) Test(id types.PolicyID, version int, doc string, payload json.RawMessage) (Decision, error) {
	cp, err := e.Load(id, version, doc)
	if err != nil {
		return Decision{}, err
	}
	return EvaluatePolicy(cp, payload)
}

// Forget drops every cached version of a policy.
func (e *Engine) Forget(id types.PolicyID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.cache {
		if k.id == id {
			delete(e.cache, k)
		}
	}
}

// CompileDocument parses and compiles a policy YAML document.
func CompileDocument(doc string) (*CompiledPolicy, error) {
	rules, err := policydoc.ParseYAML([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	return CompilePolicy(rules)
}
