package client

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/solatis/policydesk/internal/types"
)

// Dashboard sources.
const (
	SourceDocuments = "documents"
	SourcePolicies  = "policies"
	SourcePending   = "pending_approval"
)

// Dashboard holds whatever the fan-out fetched. A source that failed has a
// nil slice and an entry in Errors.
type Dashboard struct {
	Documents []json.RawMessage
	Policies  []types.Policy
	Pending   []types.Policy
	Errors    map[string]error
}

// Complete reports whether every source succeeded.
func (d Dashboard) Complete() bool { return len(d.Errors) == 0 }

// FetchDashboard requests the three sources concurrently and returns every
// success. Failures are collected per source and never cancel the others;
// only ctx does.
func (c *Client) FetchDashboard(ctx context.Context) Dashboard {
	var (
		d  = Dashboard{Errors: map[string]error{}}
		mu sync.Mutex
		g  errgroup.Group
	)
	record := func(source string, err error) {
		mu.Lock()
		defer mu.Unlock()
		d.Errors[source] = err
	}

	g.Go(func() error {
		docs, err := c.ListDocuments(ctx)
		if err != nil {
			record(SourceDocuments, err)
			return nil
		}
		d.Documents = docs
		return nil
	})
	g.Go(func() error {
		policies, err := c.ListPolicies(ctx, ListOptions{})
		if err != nil {
			record(SourcePolicies, err)
			return nil
		}
		d.Policies = policies
		return nil
	})
	g.Go(func() error {
		pending, err := c.PendingApproval(ctx)
		if err != nil {
			record(SourcePending, err)
			return nil
		}
		d.Pending = pending
		return nil
	})
	_ = g.Wait()
	return d
}
