package sqlshape

import (
	"strings"
	"testing"
)

func TestSimplifyScaffold_NonWithInputUnchanged(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"plain select", "SELECT * FROM rpt.Assessment"},
		{"empty", ""},
		{"whitespace only", "   \n\t "},
		{"identifier starting with WITH", "WITHDRAWN_QUERY"},
		{"select referencing step-like column", "SELECT StepCount FROM rpt.WoundStepTracking"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SimplifyScaffold(tt.sql)
			if result.Changed {
				t.Errorf("expected changed=false")
			}
			if result.SQL != tt.sql {
				t.Errorf("expected input unchanged, got %q", result.SQL)
			}
		})
	}
}

func TestSimplifyScaffold_SingleStepRoundTrip(t *testing.T) {
	input := "WITH Step1_Results AS (SELECT patientFk, COUNT(*) c FROM rpt.Assessment WHERE patientFk={patientId} GROUP BY patientFk) SELECT * FROM Step1_Results"

	result := SimplifyScaffold(input)
	if !result.Changed {
		t.Fatalf("expected changed=true")
	}
	if strings.Contains(strings.ToUpper(result.SQL), "STEP1_RESULTS") {
		t.Errorf("scaffold identifier survived: %q", result.SQL)
	}
	if !strings.Contains(result.SQL, "rpt.Assessment") {
		t.Errorf("CTE body missing from output: %q", result.SQL)
	}
	if !strings.Contains(result.SQL, "{patientId}") {
		t.Errorf("placeholder lost in simplification: %q", result.SQL)
	}
}

func TestSimplifyScaffold_ChainedSteps(t *testing.T) {
	input := "WITH Step1_Results AS (SELECT patientFk FROM rpt.Assessment WHERE assessmentDate >= {startDate}), " +
		"Step2_Results AS (SELECT s1.patientFk, COUNT(*) AS assessmentCount FROM Step1_Results s1 GROUP BY s1.patientFk) " +
		"SELECT * FROM Step2_Results WHERE assessmentCount >= {minimumAssessments}"

	result := SimplifyScaffold(input)
	if !result.Changed {
		t.Fatalf("expected changed=true")
	}
	upper := strings.ToUpper(result.SQL)
	if strings.Contains(upper, "STEP1_RESULTS") || strings.Contains(upper, "STEP2_RESULTS") {
		t.Errorf("step names survived chained inlining: %q", result.SQL)
	}
	// The inner filter must be textually embedded in the nested subquery.
	if !strings.Contains(result.SQL, "assessmentDate >= {startDate}") {
		t.Errorf("inner step filter lost: %q", result.SQL)
	}
	if !strings.Contains(result.SQL, "assessmentCount >= {minimumAssessments}") {
		t.Errorf("outer filter lost: %q", result.SQL)
	}
}

func TestSimplifyScaffold_Idempotent(t *testing.T) {
	input := "WITH Step1_Results AS (SELECT patientFk FROM rpt.Assessment WHERE patientFk={patientId}) SELECT * FROM Step1_Results"

	first := SimplifyScaffold(input)
	if !first.Changed {
		t.Fatalf("expected first pass to change")
	}
	second := SimplifyScaffold(first.SQL)
	if second.Changed {
		t.Errorf("expected second pass changed=false")
	}
	if normalizeWhitespace(second.SQL) != normalizeWhitespace(first.SQL) {
		t.Errorf("second pass altered output:\n first: %q\nsecond: %q", first.SQL, second.SQL)
	}
}

func TestSimplifyScaffold_KeepsNonStepCTEs(t *testing.T) {
	input := "WITH ActivePatients AS (SELECT id FROM rpt.Patient WHERE dischargedDate IS NULL), " +
		"Step1_Results AS (SELECT a.patientFk FROM rpt.Assessment a JOIN ActivePatients p ON p.id = a.patientFk) " +
		"SELECT * FROM Step1_Results"

	result := SimplifyScaffold(input)
	if !result.Changed {
		t.Fatalf("expected changed=true")
	}
	if !strings.HasPrefix(strings.TrimSpace(result.SQL), "WITH ActivePatients AS") {
		t.Errorf("non-step CTE not preserved: %q", result.SQL)
	}
	if strings.Contains(strings.ToUpper(result.SQL), "STEP1_RESULTS") {
		t.Errorf("step CTE survived: %q", result.SQL)
	}
}

func TestSimplifyScaffold_ExplicitAliasPreserved(t *testing.T) {
	input := "WITH Step1_Results AS (SELECT patientFk FROM rpt.Assessment) SELECT sr.patientFk FROM Step1_Results sr"

	result := SimplifyScaffold(input)
	if !result.Changed {
		t.Fatalf("expected changed=true")
	}
	if !strings.Contains(result.SQL, ") AS sr") {
		t.Errorf("explicit alias not preserved: %q", result.SQL)
	}
}

func TestSimplifyScaffold_CaseInsensitiveStepNames(t *testing.T) {
	input := "WITH step1_results AS (SELECT patientFk FROM rpt.Assessment) SELECT * FROM STEP1_RESULTS"

	result := SimplifyScaffold(input)
	if !result.Changed {
		t.Fatalf("expected changed=true")
	}
	if strings.Contains(strings.ToUpper(result.SQL), "STEP1_RESULTS") {
		t.Errorf("case-variant step reference survived: %q", result.SQL)
	}
}

func TestSimplifyScaffold_UnresolvedExistsFallsBack(t *testing.T) {
	// The step CTE is referenced only as a column qualifier inside an EXISTS
	// subquery, which the inliner cannot substitute. Falling back to the
	// original beats emitting broken SQL.
	input := "WITH Step1_Results AS (SELECT id FROM rpt.Assessment) " +
		"SELECT * FROM rpt.Patient p WHERE EXISTS (SELECT 1 FROM rpt.Careplan c WHERE c.ref = Step1_Results.id)"

	result := SimplifyScaffold(input)
	if result.Changed {
		t.Errorf("expected fallback with changed=false")
	}
	if result.SQL != input {
		t.Errorf("expected original SQL back, got %q", result.SQL)
	}
}

func TestSimplifyScaffold_UnbalancedParensFallsBack(t *testing.T) {
	input := "WITH Step1_Results AS (SELECT id FROM rpt.Assessment SELECT * FROM Step1_Results"

	result := SimplifyScaffold(input)
	if result.Changed || result.SQL != input {
		t.Errorf("expected unparseable input returned unchanged")
	}
}

func TestSimplifyScaffold_ParensInsideStringLiterals(t *testing.T) {
	input := "WITH Step1_Results AS (SELECT patientFk FROM rpt.Note WHERE noteText = 'closed (wound)') SELECT * FROM Step1_Results"

	result := SimplifyScaffold(input)
	if !result.Changed {
		t.Fatalf("expected changed=true")
	}
	if !strings.Contains(result.SQL, "'closed (wound)'") {
		t.Errorf("string literal damaged: %q", result.SQL)
	}
}

func TestSimplifyScaffold_QualifiedReferencesFollowAlias(t *testing.T) {
	input := "WITH Step1_Results AS (SELECT patientFk FROM rpt.Assessment) SELECT Step1_Results.patientFk FROM Step1_Results"

	result := SimplifyScaffold(input)
	if !result.Changed {
		t.Fatalf("expected changed=true")
	}
	if strings.Contains(strings.ToUpper(result.SQL), "STEP1_RESULTS") {
		t.Errorf("qualified reference not rewritten: %q", result.SQL)
	}
	if !strings.Contains(result.SQL, "Step1.patientFk") {
		t.Errorf("expected qualifier rewritten to synthesized alias: %q", result.SQL)
	}
}

func TestSimplifyScaffold_JoinReferenceInlined(t *testing.T) {
	input := "WITH Step1_Results AS (SELECT patientFk FROM rpt.Assessment) " +
		"SELECT p.name FROM rpt.Patient p INNER JOIN Step1_Results s ON s.patientFk = p.id"

	result := SimplifyScaffold(input)
	if !result.Changed {
		t.Fatalf("expected changed=true")
	}
	if strings.Contains(strings.ToUpper(result.SQL), "STEP1_RESULTS") {
		t.Errorf("join reference survived: %q", result.SQL)
	}
	if !strings.Contains(result.SQL, ") AS s ON s.patientFk = p.id") {
		t.Errorf("join alias or condition damaged: %q", result.SQL)
	}
}
