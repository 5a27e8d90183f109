package sqlshape

import (
	"fmt"
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/clinsight-health/clinsight-engine/pkg/models"
)

// Issue is one validation finding. Code is namespaced per rule so callers
// can filter deterministically.
type Issue struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ValidationResult aggregates all rule findings. Valid is true iff no rule
// produced an error; warnings never block.
type ValidationResult struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// ValidateInput is the template content under validation.
type ValidateInput struct {
	SQLPattern       string
	PlaceholdersSpec *models.PlaceholdersSpec
}

// dangerousKeywords are scanned as case-insensitive substrings anywhere in
// the pattern. One error is reported per keyword found.
var dangerousKeywords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "TRUNCATE",
	"ALTER", "CREATE", "EXEC", "EXECUTE", " SP_", " XP_",
}

// stepResultsTokenPattern finds Step<N>_Results identifiers anywhere in SQL.
var stepResultsTokenPattern = regexp.MustCompile(`(?i)\bSTEP\d+_RESULTS\b`)

// withStepPattern catches bare Step<N> scaffolding declared as a CTE, only
// reported when stepResultsTokenPattern found nothing so the same root cause
// is not warned twice.
var withStepPattern = regexp.MustCompile(`(?i)\bWITH\s+STEP\d+\s+AS\b`)

var fromOrJoinPattern = regexp.MustCompile(`(?i)\b(FROM|JOIN)\b`)

// ValidateTemplate runs every rule and returns the union of findings. This
// is the single gate callers use before persisting or publishing a template;
// it never returns an error itself.
func ValidateTemplate(in ValidateInput) ValidationResult {
	var errs, warns []Issue

	collect := func(e, w []Issue) {
		errs = append(errs, e...)
		warns = append(warns, w...)
	}

	collect(checkPlaceholderCoverage(in))
	collect(checkDangerousKeywords(in.SQLPattern))
	collect(checkStatementStart(in.SQLPattern))
	collect(checkSchemaPrefix(in.SQLPattern))
	collect(checkSpec(in.PlaceholdersSpec))
	collect(checkFunnelScaffold(in.SQLPattern))

	return ValidationResult{
		Valid:    len(errs) == 0,
		Errors:   errs,
		Warnings: warns,
	}
}

// checkPlaceholderCoverage verifies the SQL tokens and slot declarations
// cover each other: undeclared token is an error, unreferenced slot a warning.
func checkPlaceholderCoverage(in ValidateInput) ([]Issue, []Issue) {
	declared := make(map[string]bool)
	if in.PlaceholdersSpec != nil {
		for _, slot := range in.PlaceholdersSpec.Slots {
			declared[NormalizePlaceholder(slot.Name)] = true
		}
	}

	referenced := make(map[string]bool)
	var errs, warns []Issue
	for _, token := range ExtractPlaceholderTokens(in.SQLPattern) {
		key := NormalizePlaceholder(token)
		referenced[key] = true
		if !declared[key] {
			errs = append(errs, Issue{
				Code:     "placeholder.missingDeclaration",
				Message:  fmt.Sprintf("placeholder {%s} used in SQL but not declared", token),
				Metadata: map[string]any{"placeholder": token},
			})
		}
	}

	if in.PlaceholdersSpec != nil {
		for _, slot := range in.PlaceholdersSpec.Slots {
			if strings.TrimSpace(slot.Name) == "" {
				continue // reported by checkSpec
			}
			if !referenced[NormalizePlaceholder(slot.Name)] {
				warns = append(warns, Issue{
					Code:     "placeholder.unused",
					Message:  fmt.Sprintf("slot %q is declared but never referenced in SQL", slot.Name),
					Metadata: map[string]any{"slot": slot.Name},
				})
			}
		}
	}
	return errs, warns
}

func checkDangerousKeywords(sqlPattern string) ([]Issue, []Issue) {
	upper := strings.ToUpper(sqlPattern)
	var errs []Issue
	for _, kw := range dangerousKeywords {
		if strings.Contains(upper, kw) {
			errs = append(errs, Issue{
				Code:     "sql.dangerousKeyword",
				Message:  fmt.Sprintf("pattern contains dangerous keyword %q", strings.TrimSpace(kw)),
				Metadata: map[string]any{"keyword": strings.TrimSpace(kw)},
			})
		}
	}
	return errs, nil
}

func checkStatementStart(sqlPattern string) ([]Issue, []Issue) {
	normalized := strings.ToUpper(strings.TrimSpace(sqlPattern))
	if strings.HasPrefix(normalized, "SELECT") || strings.HasPrefix(normalized, "WITH") {
		return nil, nil
	}
	return nil, []Issue{{
		Code:    "sql.nonSelectStart",
		Message: "pattern does not start with SELECT or WITH",
	}}
}

func checkSchemaPrefix(sqlPattern string) ([]Issue, []Issue) {
	if !fromOrJoinPattern.MatchString(sqlPattern) {
		return nil, nil
	}
	if strings.Contains(strings.ToLower(sqlPattern), "rpt.") {
		return nil, nil
	}
	return nil, []Issue{{
		Code:    "sql.schemaPrefixMissing",
		Message: "pattern reads tables without the rpt. schema prefix",
	}}
}

// checkSpec validates the slot specification shape and its entries.
func checkSpec(spec *models.PlaceholdersSpec) ([]Issue, []Issue) {
	if spec == nil {
		// Legacy templates may predate slot specifications entirely.
		return nil, []Issue{{
			Code:    "spec.missing",
			Message: "no placeholders spec provided",
		}}
	}
	if spec.Slots == nil {
		return []Issue{{
			Code:    "spec.invalidShape",
			Message: "placeholders spec slots is not an array",
		}}, nil
	}

	var errs, warns []Issue
	seen := make(map[string]bool)
	duplicated := make(map[string]bool)
	for i, slot := range spec.Slots {
		name := strings.TrimSpace(slot.Name)
		if name == "" {
			errs = append(errs, Issue{
				Code:     "spec.slot.missingName",
				Message:  fmt.Sprintf("slot at index %d has no name", i),
				Metadata: map[string]any{"index": i},
			})
			continue
		}
		if seen[name] && !duplicated[name] {
			duplicated[name] = true
			errs = append(errs, Issue{
				Code:     "spec.slot.duplicateName",
				Message:  fmt.Sprintf("slot name %q is declared more than once", name),
				Metadata: map[string]any{"slot": name},
			})
		}
		seen[name] = true

		if slot.Type != "" && !models.IsValidSlotType(slot.Type) {
			warns = append(warns, Issue{
				Code:     "spec.slot.unknownType",
				Message:  fmt.Sprintf("slot %q has unknown type %q", name, slot.Type),
				Metadata: map[string]any{"slot": name, "type": slot.Type},
			})
		}
		for _, rule := range slot.Validators {
			if strings.TrimSpace(rule) == "" {
				warns = append(warns, Issue{
					Code:     "spec.slot.invalidValidator",
					Message:  fmt.Sprintf("slot %q has a blank validator entry", name),
					Metadata: map[string]any{"slot": name},
				})
			}
		}
		if def, ok := slot.Default.(string); ok {
			if isSQLi, fingerprint := libinjection.IsSQLi(def); isSQLi {
				warns = append(warns, Issue{
					Code:     "spec.slot.defaultInjection",
					Message:  fmt.Sprintf("slot %q default value matches a SQL injection pattern", name),
					Metadata: map[string]any{"slot": name, "fingerprint": string(fingerprint)},
				})
			}
		}
	}
	return errs, warns
}

// checkFunnelScaffold warns when funnel scaffolding survives in the pattern.
// Advisory only: operators may intentionally keep scaffolding for audit
// templates, and the extraction path strips it before validation anyway.
func checkFunnelScaffold(sqlPattern string) ([]Issue, []Issue) {
	matches := stepResultsTokenPattern.FindAllString(sqlPattern, -1)
	if len(matches) > 0 {
		seen := make(map[string]bool)
		var identifiers []string
		for _, m := range matches {
			upper := strings.ToUpper(m)
			if !seen[upper] {
				seen[upper] = true
				identifiers = append(identifiers, upper)
			}
		}
		return nil, []Issue{{
			Code:    "sql.funnelScaffold",
			Message: fmt.Sprintf("pattern references funnel scaffold CTEs: %s", strings.Join(identifiers, ", ")),
			Metadata: map[string]any{
				"identifiers": identifiers,
				"occurrences": len(matches),
			},
		}}
	}

	if m := withStepPattern.FindString(sqlPattern); m != "" {
		return nil, []Issue{{
			Code:     "sql.funnelScaffold",
			Message:  "pattern declares a Step<N> scaffold CTE",
			Metadata: map[string]any{"matched": m},
		}}
	}
	return nil, nil
}
