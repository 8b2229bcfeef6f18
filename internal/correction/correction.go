// Package correction repairs known transcription errors before intent
// matching.
//
// A [Table] is an ordered list of [Rule] values. [Table.Apply] walks the rules
// in insertion order and replaces every case-insensitive whole-word occurrence
// of Rule.Wrong with Rule.Right. Rules chain: text introduced by an earlier
// rule is visible to every later rule, so overlapping rules are order
// sensitive and the table order is the documented application order.
//
// A word character is a Unicode letter, digit, combining mark or underscore.
// An occurrence only matches when the runes on both sides of it are not word
// characters (the start and end of the string count as boundaries), so the
// rule dime → time rewrites "what's the dime" but leaves "dimension" alone.
//
// Tables are immutable after [NewTable] and safe for concurrent use.
package correction

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rule maps one known mis-transcribed token to its canonical form.
type Rule struct {
	// Wrong is the token as the speech-to-text stage tends to produce it.
	// Matched case-insensitively as a whole word. May contain spaces.
	Wrong string `yaml:"wrong" json:"wrong"`

	// Right is inserted verbatim in place of every match. It does not
	// inherit the casing of the matched text. Empty Right deletes the match.
	Right string `yaml:"right" json:"right"`
}

// InvalidRuleError reports a rule rejected by [NewTable].
type InvalidRuleError struct {
	// Index is the position of the rule in the slice passed to NewTable.
	Index  int
	Rule   Rule
	Reason string
}

// Error implements error.
func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("correction: rule[%d] %q -> %q: %s", e.Index, e.Rule.Wrong, e.Rule.Right, e.Reason)
}

// compiledRule is a validated rule with its case-insensitive literal pattern.
type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// Table is an immutable, ordered correction table. A nil *Table is a valid
// empty table.
type Table struct {
	rules []compiledRule
}

// NewTable validates rules and returns a [Table] that applies them in the
// given order. Every invalid rule is reported; the returned error joins one
// [*InvalidRuleError] per offending rule.
//
// A rule is invalid when its Wrong token is empty or whitespace only, or when
// Wrong equals Right (a no-op that usually points at a misconfiguration).
func NewTable(rules ...Rule) (*Table, error) {
	var errs []error
	compiled := make([]compiledRule, 0, len(rules))

	for i, r := range rules {
		wrong := strings.TrimSpace(r.Wrong)
		switch {
		case wrong == "":
			errs = append(errs, &InvalidRuleError{Index: i, Rule: r, Reason: "wrong token must not be empty"})
			continue
		case wrong == r.Right:
			errs = append(errs, &InvalidRuleError{Index: i, Rule: r, Reason: "wrong token equals right token"})
			continue
		}
		compiled = append(compiled, compiledRule{
			Rule: Rule{Wrong: wrong, Right: r.Right},
			re:   regexp.MustCompile(`(?i)` + regexp.QuoteMeta(wrong)),
		})
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Table{rules: compiled}, nil
}

// MustNewTable is like [NewTable] but panics on error. Intended for tests and
// package-level fixtures.
func MustNewTable(rules ...Rule) *Table {
	t, err := NewTable(rules...)
	if err != nil {
		panic(err)
	}
	return t
}

// Len returns the number of rules in t.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}

// Rules returns a copy of the rules in application order.
func (t *Table) Rules() []Rule {
	if t == nil {
		return nil
	}
	out := make([]Rule, len(t.rules))
	for i, r := range t.rules {
		out[i] = r.Rule
	}
	return out
}

// Apply runs every rule over input in table order and returns the corrected
// text. An empty table or empty input returns input unchanged.
func (t *Table) Apply(input string) string {
	if t == nil || input == "" {
		return input
	}
	out := input
	for i := range t.rules {
		out = t.rules[i].replaceAll(out)
	}
	return out
}

// Normalize applies table to input. It is the functional form of
// [Table.Apply].
func Normalize(input string, table *Table) string {
	return table.Apply(input)
}

// replaceAll substitutes every whole-word occurrence of r.Wrong in s.
//
// A match rejected because of its boundaries only advances the scan by one
// rune, so an overlapping occurrence that starts inside it is still found.
func (r *compiledRule) replaceAll(s string) string {
	var (
		b        strings.Builder
		last     int
		pos      int
		replaced bool
	)
	for pos < len(s) {
		loc := r.re.FindStringIndex(s[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if atBoundary(s, start, end) {
			b.WriteString(s[last:start])
			b.WriteString(r.Right)
			last, pos = end, end
			replaced = true
			continue
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		pos = start + size
	}
	if !replaced {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

// atBoundary reports whether s[start:end] is flanked by non-word runes or the
// ends of s.
func atBoundary(s string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(s[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		if r, _ := utf8.DecodeRuneInString(s[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

// isWordRune reports whether r belongs to a word.
func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}
