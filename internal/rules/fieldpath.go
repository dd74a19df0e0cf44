// internal/rules/fieldpath.go
package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/solatis/policydesk/internal/types"
)

/*
 * Field path parsing and resolution for transaction payloads.
 *
 * Field conditions name payload fields with dotted paths:
 *
 *   amount                 top-level key
 *   party.country          nested object
 *   items[0].sku           array index
 *   items[*].sku           any element (wildcard)
 *   accounts.*.balance     any object value (wildcard)
 *
 * Wildcards use ANY semantics: the first element that resolves wins. Object
 * wildcards iterate keys in sorted order so evaluation is deterministic.
 * MaxPathDepth and MaxNestedWildcards are enforced at parse time and again
 * at resolution time.
 */

// PathSegment is one hop of a parsed field path.
type PathSegment struct {
	Key      string
	Index    int
	IsIndex  bool
	Wildcard bool
}

func (s PathSegment) String() string {
	switch {
	case s.Wildcard:
		return "[*]"
	case s.IsIndex:
		return "[" + strconv.Itoa(s.Index) + "]"
	default:
		return s.Key
	}
}

// ParseFieldPath splits a dotted field path into segments.
func ParseFieldPath(field string) ([]PathSegment, error) {
	if strings.TrimSpace(field) == "" {
		return nil, fmt.Errorf("%w: empty", types.ErrInvalidFieldPath)
	}

	var segs []PathSegment
	for _, part := range strings.Split(field, ".") {
		if part == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", types.ErrInvalidFieldPath, field)
		}
		if part == "*" {
			segs = append(segs, PathSegment{Wildcard: true})
			continue
		}

		key := part
		rest := ""
		if i := strings.IndexByte(part, '['); i >= 0 {
			key, rest = part[:i], part[i:]
		}
		if key != "" {
			segs = append(segs, PathSegment{Key: key})
		}
		for rest != "" {
			end := strings.IndexByte(rest, ']')
			if rest[0] != '[' || end < 0 {
				return nil, fmt.Errorf("%w: %q has an unbalanced bracket", types.ErrInvalidFieldPath, field)
			}
			inner := rest[1:end]
			rest = rest[end+1:]
			if inner == "*" {
				segs = append(segs, PathSegment{Wildcard: true})
				continue
			}
			idx, err := strconv.Atoi(inner)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("%w: %q has a bad index %q", types.ErrInvalidFieldPath, field, inner)
			}
			segs = append(segs, PathSegment{Index: idx, IsIndex: true})
		}
	}

	if err := checkPathLimits(segs); err != nil {
		return nil, err
	}
	return segs, nil
}

// FormatFieldPath renders segments back into dotted form.
func FormatFieldPath(path []PathSegment) string {
	var b strings.Builder
	for i, seg := range path {
		if !seg.IsIndex && !seg.Wildcard && i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.String())
	}
	return b.String()
}

func checkPathLimits(path []PathSegment) error {
	if len(path) > types.MaxPathDepth {
		return types.ErrPathTooDeep
	}
	wildcards := 0
	for _, seg := range path {
		if seg.Wildcard {
			wildcards++
		}
	}
	if wildcards > types.MaxNestedWildcards {
		return types.ErrTooManyWildcards
	}
	return nil
}

// ResolveResult contains the resolved value and the actual path taken.
type ResolveResult struct {
	Value        any           // resolved value (nil if not found)
	ResolvedPath []PathSegment // path with wildcards replaced by actual indices
	Found        bool          // true if path resolved to a value
}

// Resolve traverses a decoded JSON document following path segments and
// returns the first element reached, wildcard branches taken in key or index
// order. Returns ErrPathTooDeep, ErrTooManyWildcards or ErrFieldNotFound.
func Resolve(path []PathSegment, data any) (ResolveResult, error) {
	all, err := ResolveAll(path, data)
	if err != nil {
		return ResolveResult{}, err
	}
	return all[0], nil
}

// ResolveAll is Resolve with every wildcard branch kept: it returns one
// result per element the path reaches, in key or index order. Returns
// ErrFieldNotFound when no branch resolves.
func ResolveAll(path []PathSegment, data any) ([]ResolveResult, error) {
	if err := checkPathLimits(path); err != nil {
		return nil, err
	}
	var out []ResolveResult
	collectRecursive(path, data, nil, &out)
	if len(out) == 0 {
		return nil, types.ErrFieldNotFound
	}
	return out, nil
}

func collectRecursive(path []PathSegment, current any, resolvedSoFar []PathSegment, out *[]ResolveResult) {
	if len(path) == 0 {
		*out = append(*out, ResolveResult{Value: current, ResolvedPath: resolvedSoFar, Found: true})
		return
	}

	seg := path[0]
	remaining := path[1:]

	switch v := current.(type) {
	case map[string]any:
		if seg.Wildcard {
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				collectRecursive(remaining, v[key], appendSegment(resolvedSoFar, PathSegment{Key: key}), out)
			}
			return
		}
		if val, ok := v[seg.Key]; ok && !seg.IsIndex {
			collectRecursive(remaining, val, appendSegment(resolvedSoFar, seg), out)
		}

	case []any:
		if seg.Wildcard {
			for i, elem := range v {
				collectRecursive(remaining, elem, appendSegment(resolvedSoFar, PathSegment{Index: i, IsIndex: true}), out)
			}
			return
		}
		if seg.IsIndex && seg.Index >= 0 && seg.Index < len(v) {
			collectRecursive(remaining, v[seg.Index], appendSegment(resolvedSoFar, seg), out)
		}
	}
}

// appendSegment copies before appending so sibling wildcard branches never
// share a backing array.
func appendSegment(path []PathSegment, seg PathSegment) []PathSegment {
	out := make([]PathSegment, len(path), len(path)+1)
	copy(out, path)
	return append(out, seg)
}
