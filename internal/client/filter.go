package client

import (
	"cmp"
	"slices"
	"strings"

	"github.com/solatis/policydesk/internal/types"
)

// Filter returns the items keep accepts, in order. The input is not modified.
func Filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// SortBy returns a stably sorted copy ordered by key.
func SortBy[T any, K cmp.Ordered](items []T, key func(T) K, desc bool) []T {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b T) int {
		if desc {
			return cmp.Compare(key(b), key(a))
		}
		return cmp.Compare(key(a), key(b))
	})
	return out
}

// MatchPolicy reports whether p matches a case-insensitive search over its
// name, description and category. An empty query matches everything.
func MatchPolicy(p types.Policy, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, s := range []string{p.Name, p.Description, p.Category} {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

// PolicySort names a policy list ordering.
type PolicySort string

const (
	SortUpdated PolicySort = "updated"
	SortName    PolicySort = "name"
	SortVersion PolicySort = "version"
)

// FilterPolicies applies a status filter (empty for all), a search query and
// an ordering. Updated and version sort newest first; name sorts A-Z.
func FilterPolicies(policies []types.Policy, status types.Status, query string, order PolicySort) []types.Policy {
	out := Filter(policies, func(p types.Policy) bool {
		return (status == "" || p.Status == status) && MatchPolicy(p, query)
	})
	switch order {
	case SortName:
		return SortBy(out, func(p types.Policy) string { return strings.ToLower(p.Name) }, false)
	case SortVersion:
		return SortBy(out, func(p types.Policy) int { return p.Version }, true)
	default:
		return SortBy(out, func(p types.Policy) int64 { return p.UpdatedAt.UnixNano() }, true)
	}
}
