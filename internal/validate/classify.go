package validate

import "regexp"

var (
	syntaxRe    = regexp.MustCompile(`(?i)yaml|syntax|parse|indent|unexpected|mapping values|line \d+`)
	structureRe = regexp.MustCompile(`(?i)required|missing|must be|invalid (action|priority|condition)|out of range|duplicate|empty`)
	fieldRe     = regexp.MustCompile(`(?i)field|unknown (key|property|attribute)|not found in schema`)
)

// ClassifyMessage buckets a plain-string validation message. Servers that
// predate structured issues return bare strings; the client uses this to
// group them for display.
func ClassifyMessage(msg string) Kind {
	switch {
	case syntaxRe.MatchString(msg):
		return KindSyntax
	case fieldRe.MatchString(msg):
		return KindFieldReference
	case structureRe.MatchString(msg):
		return KindStructure
	default:
		return KindOther
	}
}

// IssueFromMessage wraps a bare message as a classified Issue.
func IssueFromMessage(msg string) Issue {
	return Issue{Kind: ClassifyMessage(msg), Message: msg}
}
