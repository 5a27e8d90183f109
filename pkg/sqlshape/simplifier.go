// Package sqlshape provides structural transforms and validation rules for
// AI-generated SQL query templates.
package sqlshape

import (
	"regexp"
	"strings"
)

// SimplifyResult contains the (possibly) simplified SQL and whether the
// transform changed anything.
type SimplifyResult struct {
	SQL     string
	Changed bool
}

// cte is one parsed WITH-clause entry.
type cte struct {
	name string
	body string
	raw  string
}

// stepNamePattern matches funnel scaffold CTE names: Step1, Step2_Results, etc.
var stepNamePattern = regexp.MustCompile(`(?i)^STEP\d+(_RESULTS)?$`)

// unresolvedExistsPattern detects a step reference that survived inlining
// inside a WHERE EXISTS subquery. If this remains after substitution the
// simplification could not fully resolve and the original SQL is safer.
var unresolvedExistsPattern = regexp.MustCompile(`(?is)WHERE\s+EXISTS\s*\(\s*SELECT.*?\bSTEP\d+_RESULTS\b`)

// tableRefPattern matches a table reference following FROM, any JOIN variant,
// or CROSS/OUTER APPLY. Alias detection is done by hand after the match so a
// following keyword is never mistaken for an alias.
var tableRefPattern = regexp.MustCompile(`(?i)\b(FROM|JOIN|APPLY)\s+([A-Za-z_][A-Za-z0-9_]*)`)

var whitespaceRuns = regexp.MustCompile(`\s+`)

// reservedAliasWords are tokens that can follow a table reference but are
// never an alias.
var reservedAliasWords = map[string]struct{}{
	"ON": {}, "WHERE": {}, "GROUP": {}, "ORDER": {}, "HAVING": {},
	"JOIN": {}, "INNER": {}, "LEFT": {}, "RIGHT": {}, "FULL": {},
	"CROSS": {}, "OUTER": {}, "UNION": {}, "EXCEPT": {}, "INTERSECT": {},
	"SELECT": {}, "AS": {}, "AND": {}, "OR": {}, "NOT": {},
	"LIMIT": {}, "OFFSET": {}, "FETCH": {}, "OPTION": {}, "WITH": {},
	"PIVOT": {}, "UNPIVOT": {},
}

// SimplifyScaffold collapses Step<N>/Step<N>_Results CTE scaffolding emitted
// by funnel-style SQL generation into a single flat statement. The transform
// is purely textual and conservative: any structure it cannot parse, or any
// substitution it cannot fully resolve, falls back to returning the input
// unchanged. It never returns an error.
func SimplifyScaffold(input string) SimplifyResult {
	trimmed := strings.TrimSpace(input)
	if len(trimmed) < 5 || !strings.EqualFold(trimmed[:4], "WITH") || isWordChar(trimmed[4]) {
		return SimplifyResult{SQL: input}
	}

	ctes, mainQuery, ok := parseWithClause(trimmed)
	if !ok || len(ctes) == 0 {
		return SimplifyResult{SQL: input}
	}

	// Resolve step CTEs in declaration order. A later step that references an
	// earlier one gets the earlier body substituted in, so every resolved
	// body is self-contained by the time it is inlined downstream.
	resolved := make(map[string]string)
	var kept []cte
	for _, c := range ctes {
		if stepNamePattern.MatchString(c.name) {
			resolved[strings.ToUpper(c.name)] = inlineStepReferences(c.body, resolved)
		} else {
			kept = append(kept, c)
		}
	}
	if len(resolved) == 0 {
		return SimplifyResult{SQL: input}
	}

	main := inlineStepReferences(mainQuery, resolved)
	if unresolvedExistsPattern.MatchString(main) {
		return SimplifyResult{SQL: input}
	}

	var b strings.Builder
	if len(kept) > 0 {
		b.WriteString("WITH ")
		for i, c := range kept {
			if i > 0 {
				b.WriteString(",\n")
			}
			b.WriteString(c.name)
			b.WriteString(" AS (")
			// Non-step CTEs may also reference step CTEs declared before them.
			b.WriteString(inlineStepReferences(c.body, resolved))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	b.WriteString(strings.TrimSpace(main))
	result := b.String()

	if normalizeWhitespace(result) == normalizeWhitespace(input) {
		return SimplifyResult{SQL: input}
	}
	return SimplifyResult{SQL: result, Changed: true}
}

// parseWithClause splits a statement that starts with WITH into its ordered
// CTE list and the trailing main query. Returns ok=false on any structure it
// cannot parse.
func parseWithClause(s string) ([]cte, string, bool) {
	pos := 4 // past "WITH"
	var ctes []cte
	for {
		pos = skipSpace(s, pos)
		name, next := scanIdentifier(s, pos)
		if name == "" {
			return nil, "", false
		}
		start := pos
		pos = skipSpace(s, next)
		if !hasKeyword(s, pos, "AS") {
			return nil, "", false
		}
		pos = skipSpace(s, pos+2)
		if pos >= len(s) || s[pos] != '(' {
			return nil, "", false
		}
		end, ok := matchBalanced(s, pos)
		if !ok {
			return nil, "", false
		}
		ctes = append(ctes, cte{
			name: name,
			body: strings.TrimSpace(s[pos+1 : end]),
			raw:  s[start : end+1],
		})
		pos = skipSpace(s, end+1)
		if pos < len(s) && s[pos] == ',' {
			pos++
			continue
		}
		if pos >= len(s) {
			return nil, "", false // WITH clause with no main query
		}
		return ctes, s[pos:], true
	}
}

// matchBalanced returns the index of the parenthesis closing the one at open.
// Parentheses inside single- or double-quoted spans are skipped; backslash
// escapes and SQL doubled-quote escapes are honored.
func matchBalanced(s string, open int) (int, bool) {
	depth := 0
	inSingle := false
	inDouble := false
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case inSingle:
			if c == '\\' {
				i++
			} else if c == '\'' {
				inSingle = false
			}
		case inDouble:
			if c == '\\' {
				i++
			} else if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// inlineStepReferences replaces FROM/JOIN/APPLY references to resolved step
// CTEs with parenthesized subqueries, keeping the original alias or
// synthesizing one equal to the CTE name.
func inlineStepReferences(text string, resolved map[string]string) string {
	if len(resolved) == 0 {
		return text
	}
	matches := tableRefPattern.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text
	}

	var b strings.Builder
	last := 0
	renamed := make(map[string]string)
	for _, m := range matches {
		nameStart, nameEnd := m[4], m[5]
		if nameStart < last {
			continue
		}
		name := text[nameStart:nameEnd]
		body, isStep := resolved[strings.ToUpper(name)]
		if !isStep {
			continue
		}

		alias, aliasEnd := scanAlias(text, nameEnd)
		replEnd := nameEnd
		if alias != "" {
			replEnd = aliasEnd
		} else {
			// Synthesizing the CTE name itself as the alias would put the
			// scaffold identifier right back into the output, so the
			// _Results suffix is dropped.
			alias = stripResultsSuffix(name)
			renamed[strings.ToUpper(name)] = alias
		}

		b.WriteString(text[last:m[3]]) // up to and including FROM/JOIN/APPLY
		b.WriteString(" (")
		b.WriteString(body)
		b.WriteString(") AS ")
		b.WriteString(alias)
		last = replEnd
	}
	b.WriteString(text[last:])
	out := b.String()

	// Column references qualified by a renamed CTE follow the new alias.
	for upper, alias := range renamed {
		if strings.EqualFold(upper, alias) {
			continue
		}
		qualifier := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(upper) + `\s*\.`)
		out = qualifier.ReplaceAllString(out, alias+".")
	}
	return out
}

// stripResultsSuffix removes a trailing _Results from a step CTE name.
func stripResultsSuffix(name string) string {
	const suffix = "_RESULTS"
	if len(name) > len(suffix) && strings.EqualFold(name[len(name)-len(suffix):], suffix) {
		return name[:len(name)-len(suffix)]
	}
	return name
}

// scanAlias reads an optional "AS alias" or bare alias following a table
// reference. Returns "" when the next token is a keyword rather than an alias.
func scanAlias(s string, pos int) (string, int) {
	p := skipSpace(s, pos)
	if hasKeyword(s, p, "AS") {
		p = skipSpace(s, p+2)
	}
	name, next := scanIdentifier(s, p)
	if name == "" {
		return "", pos
	}
	if _, reserved := reservedAliasWords[strings.ToUpper(name)]; reserved {
		return "", pos
	}
	return name, next
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t' || s[pos] == '\n' || s[pos] == '\r') {
		pos++
	}
	return pos
}

func scanIdentifier(s string, pos int) (string, int) {
	if pos >= len(s) {
		return "", pos
	}
	c := s[pos]
	if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
		return "", pos
	}
	end := pos + 1
	for end < len(s) && isWordChar(s[end]) {
		end++
	}
	return s[pos:end], end
}

// hasKeyword reports whether the keyword starts at pos followed by a
// non-word boundary.
func hasKeyword(s string, pos int, kw string) bool {
	if pos+len(kw) > len(s) {
		return false
	}
	if !strings.EqualFold(s[pos:pos+len(kw)], kw) {
		return false
	}
	return pos+len(kw) == len(s) || !isWordChar(s[pos+len(kw)])
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(s, " "))
}
