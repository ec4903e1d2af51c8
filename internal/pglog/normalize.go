// Package pglog follows the active PostgreSQL server log, parses error and
// operational event lines, and groups normalized error patterns for the
// current snapshot interval.
package pglog

import (
	"regexp"
	"strings"

	"github.com/vadv/rpglot/internal/model"
)

// MaxLogMessageLen bounds stored patterns and samples.
const MaxLogMessageLen = 2048

var (
	// literals are replaced with "..." to collapse messages into patterns:
	// double-quoted identifiers, single-quoted strings, then bare numbers.
	reQuotedIdent  = regexp.MustCompile(`"[^"]*"`)
	reQuotedString = regexp.MustCompile(`'[^']*'`)
	reNumber       = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
)

// NormalizeError reduces an error message to its pattern by replacing
// literal values with "...". The output is truncated to MaxLogMessageLen.
func NormalizeError(message string) string {
	out := reQuotedIdent.ReplaceAllString(message, `"..."`)
	out = reQuotedString.ReplaceAllString(out, `'...'`)
	out = reNumber.ReplaceAllString(out, "...")
	out = strings.TrimSpace(out)
	if len(out) > MaxLogMessageLen {
		out = out[:MaxLogMessageLen]
	}
	return out
}

var categoryPatterns = []struct {
	category model.ErrorCategory
	re       *regexp.Regexp
}{
	{model.CategoryLock, regexp.MustCompile(`(?i)deadlock detected|could not obtain lock|lock timeout`)},
	{model.CategoryConstraint, regexp.MustCompile(`(?i)duplicate key|violates foreign key|violates not-null|violates check|violates exclusion`)},
	{model.CategorySerialization, regexp.MustCompile(`(?i)could not serialize access`)},
	{model.CategoryTimeout, regexp.MustCompile(`(?i)statement timeout|idle-in-transaction timeout|canceling statement due to`)},
	{model.CategoryConnection, regexp.MustCompile(`(?i)connection reset by peer|unexpected EOF|broken pipe|could not receive data|terminating connection`)},
	{model.CategoryAuth, regexp.MustCompile(`(?i)password authentication failed|no pg_hba\.conf entry|permission denied`)},
	{model.CategorySyntax, regexp.MustCompile(`(?i)syntax error|does not exist|column .* of relation`)},
	{model.CategoryResource, regexp.MustCompile(`(?i)out of memory|too many connections|could not extend|no space left|disk full`)},
	{model.CategoryDataCorruption, regexp.MustCompile(`(?i)invalid page|corrupted|could not read block`)},
	{model.CategorySystem, regexp.MustCompile(`(?i)could not open file|could not write|I/O error|database system was interrupted`)},
}

// CategorizeError classifies a normalized error message.
func CategorizeError(pattern string) model.ErrorCategory {
	for _, p := range categoryPatterns {
		if p.re.MatchString(pattern) {
			return p.category
		}
	}
	return model.CategoryOther
}
