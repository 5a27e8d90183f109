package sqlshape

import (
	"reflect"
	"testing"

	"github.com/clinsight-health/clinsight-engine/pkg/models"
)

func TestNormalizePlaceholder(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "patientId", "patientid"},
		{"array decoration", "woundIds[]", "woundids"},
		{"optional decoration", "endDate?", "enddate"},
		{"surrounding whitespace", "  patientId ", "patientid"},
		{"already lowercase", "start_date", "start_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePlaceholder(tt.input); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestExtractPlaceholderTokens(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{
			name:     "no placeholders",
			sql:      "SELECT * FROM rpt.Assessment",
			expected: nil,
		},
		{
			name:     "single placeholder",
			sql:      "SELECT * FROM rpt.Assessment WHERE patientFk = {patientId}",
			expected: []string{"patientId"},
		},
		{
			name:     "duplicate appears once",
			sql:      "SELECT * FROM rpt.Note WHERE createdBy = {userId} OR modifiedBy = {userId}",
			expected: []string{"userId"},
		},
		{
			name:     "decorated tokens kept raw",
			sql:      "SELECT * FROM rpt.Wound WHERE id IN ({woundIds[]}) AND closedDate < {endDate?}",
			expected: []string{"woundIds[]", "endDate?"},
		},
		{
			name:     "braces without valid name ignored",
			sql:      "SELECT '{not a token}' FROM rpt.Note WHERE id = {noteId}",
			expected: []string{"noteId"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractPlaceholderTokens(tt.sql)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDeriveSlots(t *testing.T) {
	raw := map[string]any{
		"slots": []any{
			map[string]any{"name": "patientId", "type": "guid", "semantic": "patient_id", "required": true},
			map[string]any{"name": "  ", "type": "int"},               // blank name dropped
			"not an object",                                           // dropped
			map[string]any{"name": 42},                                // numeric name coerced
			map[string]any{"name": "limit", "default": float64(100), "validators": []any{"min:1", "min:1", 7}},
		},
	}

	slots := DeriveSlots(raw)
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d: %+v", len(slots), slots)
	}
	if slots[0].Name != "patientId" || slots[0].Type != "guid" || !slots[0].Required {
		t.Errorf("first slot mangled: %+v", slots[0])
	}
	if slots[1].Name != "42" {
		t.Errorf("numeric name not coerced: %+v", slots[1])
	}
	if !reflect.DeepEqual(slots[2].Validators, []string{"min:1", "7"}) {
		t.Errorf("validators not coerced and deduplicated: %v", slots[2].Validators)
	}
}

func TestDeriveSlots_NonSpecShapes(t *testing.T) {
	if got := DeriveSlots(nil); got != nil {
		t.Errorf("nil input should yield nil, got %v", got)
	}
	if got := DeriveSlots("garbage"); got != nil {
		t.Errorf("scalar input should yield nil, got %v", got)
	}
	bare := []any{map[string]any{"name": "x"}}
	if got := DeriveSlots(bare); len(got) != 1 || got[0].Name != "x" {
		t.Errorf("bare array form not accepted: %v", got)
	}
}

func TestEnsureCoverage_AppendsMissingSlots(t *testing.T) {
	spec := &models.PlaceholdersSpec{Slots: []models.PlaceholderSlot{
		{Name: "patientId", Type: "guid"},
	}}
	sql := "SELECT * FROM rpt.Assessment WHERE patientFk = {patientId} AND cnt >= {minimumAssessments}"

	covered := EnsureCoverage(spec, sql)
	if len(covered.Slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(covered.Slots))
	}
	if covered.Slots[1].Name != "minimumAssessments" {
		t.Errorf("missing slot not appended with raw token name: %+v", covered.Slots[1])
	}
	// Original spec is not mutated.
	if len(spec.Slots) != 1 {
		t.Errorf("input spec mutated")
	}
}

func TestEnsureCoverage_SupersetProperty(t *testing.T) {
	specs := []*models.PlaceholdersSpec{
		nil,
		{Slots: []models.PlaceholderSlot{}},
		{Slots: []models.PlaceholderSlot{{Name: "other"}}},
		{Slots: []models.PlaceholderSlot{{Name: "PatientID"}}}, // case-variant declaration
	}
	sql := "SELECT * FROM rpt.Assessment WHERE patientFk = {patientId} AND id IN ({woundIds[]})"

	for _, spec := range specs {
		covered := EnsureCoverage(spec, sql)
		derived := DerivePlaceholders(covered, sql)
		declared := make(map[string]bool)
		for _, name := range derived {
			declared[name] = true
		}
		for _, token := range ExtractPlaceholderTokens(sql) {
			if !declared[NormalizePlaceholder(token)] {
				t.Errorf("token %q not covered after EnsureCoverage with spec %+v", token, spec)
			}
		}
	}
}

func TestDerivePlaceholders_Union(t *testing.T) {
	spec := &models.PlaceholdersSpec{Slots: []models.PlaceholderSlot{
		{Name: "unusedSlot"},
		{Name: "patientId"},
	}}
	sql := "SELECT * FROM rpt.Assessment WHERE patientFk = {patientId} AND d >= {startDate}"

	got := DerivePlaceholders(spec, sql)
	want := []string{"unusedslot", "patientid", "startdate"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNormalizeStringList(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{"nil", nil, nil},
		{"trims and drops blanks", []string{" wound ", "", "  "}, []string{"wound"}},
		{"dedupes preserving order", []string{"b", "a", "b", "a"}, []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeStringList(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}
