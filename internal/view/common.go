// Package view assembles UI-neutral table representations from snapshots,
// rate state and per-tab configuration. Renderers (terminal, HTTP) consume
// TableViewModel and map style classes to their own palette; nothing in
// this package knows how cells are drawn.
package view

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/vadv/rpglot/internal/intern"
)

// StyleClass is the closed set of cell/row style classes.
type StyleClass int

const (
	StyleNormal StyleClass = iota
	StyleWarning
	StyleCritical
	StyleCriticalBold
	StyleActive
	StyleDimmed
	StyleAccent
)

// ViewCell is one rendered cell: text plus an optional style class.
type ViewCell struct {
	Text  string
	Style StyleClass
}

// Plain creates an unstyled cell.
func Plain(text string) ViewCell {
	return ViewCell{Text: text}
}

// Styled creates a styled cell.
func Styled(text string, style StyleClass) ViewCell {
	return ViewCell{Text: text, Style: style}
}

// ViewRow is one table row. ID is opaque to renderers and used only for
// selection tracking across refreshes.
type ViewRow struct {
	ID    string
	Cells []ViewCell
	Style StyleClass
}

// TableViewModel is the renderer-facing table contract. The last column is
// implied to fill the remaining width.
type TableViewModel struct {
	Title         string
	Headers       []string
	Widths        []int
	Rows          []ViewRow
	SortColumn    int
	SortAscending bool
}

// TabState is the per-tab configuration shared by all builders.
type TabState struct {
	SortColumn    int
	SortAscending bool
	Filter        string
	// ViewMode selects among a view's column layouts where it has several.
	ViewMode int
	// HideIdle hides idle sessions and non-client backends (activity view).
	HideIdle bool
}

// SortKeyKind discriminates sort key variants.
type SortKeyKind int

const (
	SortInteger SortKeyKind = iota
	SortFloat
	SortString
)

// SortKey imposes a total order across heterogeneous columns. NaN floats
// compare as equal so sorting stays stable.
type SortKey struct {
	Kind SortKeyKind
	Int  int64
	F    float64
	Str  string
}

// IntKey builds an integer sort key.
func IntKey(v int64) SortKey {
	return SortKey{Kind: SortInteger, Int: v}
}

// FloatKey builds a float sort key.
func FloatKey(v float64) SortKey {
	return SortKey{Kind: SortFloat, F: v}
}

// StringKey builds a string sort key.
func StringKey(v string) SortKey {
	return SortKey{Kind: SortString, Str: v}
}

// Less compares two keys of the same kind.
func (k SortKey) Less(other SortKey) bool {
	switch k.Kind {
	case SortInteger:
		return k.Int < other.Int
	case SortFloat:
		a, b := k.F, other.F
		if math.IsNaN(a) {
			a = 0
		}
		if math.IsNaN(b) {
			b = 0
		}
		return a < b
	default:
		return k.Str < other.Str
	}
}

// sortRows orders indexed rows by key, honoring direction, with the row
// index as tiebreaker for stability.
func sortRows(n int, asc bool, key func(i int) SortKey) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := key(order[a]), key(order[b])
		if asc {
			return ka.Less(kb)
		}
		return kb.Less(ka)
	})
	return order
}

// matchFilter applies a case-insensitive substring match across the textual
// columns plus a prefix match on the numeric id.
func matchFilter(filter string, id string, texts ...string) bool {
	if filter == "" {
		return true
	}
	needle := strings.ToLower(filter)
	if strings.HasPrefix(id, filter) {
		return true
	}
	for _, t := range texts {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

// resolveHash resolves h via the interner, empty string when the interner
// is absent (historical snapshots without their chunk interner loaded).
func resolveHash(interner *intern.Interner, h uint64) string {
	if interner == nil {
		return ""
	}
	s, _ := interner.Resolve(h)
	return s
}

// buildTitle renders the standard title line: name, row counts, the active
// filter and a view-mode indicator.
func buildTitle(name string, shown, total int, state *TabState, mode string) string {
	title := fmt.Sprintf("%s (%d/%d)", name, shown, total)
	if mode != "" {
		title += " [" + mode + "]"
	}
	if state.Filter != "" {
		title += fmt.Sprintf(" filter:%q", state.Filter)
	}
	return title
}

// formatOptFloat renders a nullable rate right-aligned to width with prec
// decimals; nil renders as "-".
func formatOptFloat(v *float64, width, prec int) string {
	if v == nil {
		return fmt.Sprintf("%*s", width, "-")
	}
	return fmt.Sprintf("%*.*f", width, prec, *v)
}

// truncate cuts s to at most max runes with an ellipsis marker.
func truncate(s string, max int) string {
	if max <= 1 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// normalizeQuery collapses a SQL text to a single display line.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
