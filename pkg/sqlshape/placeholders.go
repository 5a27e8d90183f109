package sqlshape

import (
	"regexp"
	"strings"

	"github.com/clinsight-health/clinsight-engine/pkg/jsonutil"
	"github.com/clinsight-health/clinsight-engine/pkg/models"
)

// placeholderTokenPattern matches {placeholder} tokens in SQL text. Names
// admit letters, digits, and underscores, plus the [] and ? decorations
// some drafts attach to array and optional parameters.
var placeholderTokenPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+(?:\[\])?\??)\}`)

// NormalizePlaceholder derives the matching key for a placeholder name:
// trimmed, one trailing "[]" stripped, then one trailing "?" stripped,
// lowercased. Display names keep their original casing; this key is only
// used to match SQL tokens against slot declarations.
func NormalizePlaceholder(name string) string {
	n := strings.TrimSpace(name)
	n = strings.TrimSuffix(n, "[]")
	n = strings.TrimSuffix(n, "?")
	return strings.ToLower(n)
}

// ExtractPlaceholderTokens finds all {token} placeholders in SQL and returns
// a deduplicated list of raw token names in order of first appearance.
func ExtractPlaceholderTokens(sqlPattern string) []string {
	matches := placeholderTokenPattern.FindAllStringSubmatch(sqlPattern, -1)
	seen := make(map[string]bool)
	var tokens []string
	for _, match := range matches {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			tokens = append(tokens, name)
		}
	}
	return tokens
}

// DeriveSlots builds a slot list from a loosely-typed placeholders spec as
// emitted by an AI draft. The raw value may be an object with a "slots"
// array or a bare array of slot-like objects. Entries without a non-empty
// name, or that are not objects at all, are silently dropped; malformed
// metadata never fails the whole spec.
func DeriveSlots(raw any) []models.PlaceholderSlot {
	var entries []any
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]any:
		entries, _ = v["slots"].([]any)
	case []any:
		entries = v
	default:
		return nil
	}

	var slots []models.PlaceholderSlot
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, ok := jsonutil.FlexibleString(obj["name"])
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		slot := models.PlaceholderSlot{Name: strings.TrimSpace(name)}
		if t, ok := jsonutil.FlexibleString(obj["type"]); ok {
			slot.Type = strings.TrimSpace(t)
		}
		if sem, ok := jsonutil.FlexibleString(obj["semantic"]); ok {
			slot.Semantic = strings.TrimSpace(sem)
		}
		if req, ok := jsonutil.FlexibleBool(obj["required"]); ok {
			slot.Required = req
		}
		if def, present := obj["default"]; present && def != nil {
			slot.Default = def
		}
		slot.Validators = NormalizeStringList(jsonutil.FlexibleStringSlice(obj["validators"]))
		slots = append(slots, slot)
	}
	return slots
}

// EnsureCoverage returns a spec in which every {token} referenced by
// sqlPattern has a slot declaration. Tokens with no matching slot (by
// normalized name) are appended as minimal slots named by the raw token
// text. The inverse direction, declared slots never referenced, is a
// validator warning, not handled here.
func EnsureCoverage(spec *models.PlaceholdersSpec, sqlPattern string) *models.PlaceholdersSpec {
	out := &models.PlaceholdersSpec{Slots: []models.PlaceholderSlot{}}
	declared := make(map[string]bool)
	if spec != nil {
		out.Slots = append(out.Slots, spec.Slots...)
		for _, slot := range spec.Slots {
			declared[NormalizePlaceholder(slot.Name)] = true
		}
	}
	for _, token := range ExtractPlaceholderTokens(sqlPattern) {
		key := NormalizePlaceholder(token)
		if !declared[key] {
			declared[key] = true
			out.Slots = append(out.Slots, models.PlaceholderSlot{Name: token})
		}
	}
	return out
}

// DerivePlaceholders returns the union of declared slot names and SQL
// tokens, normalized and deduplicated, slots first.
func DerivePlaceholders(spec *models.PlaceholdersSpec, sqlPattern string) []string {
	seen := make(map[string]bool)
	var names []string
	if spec != nil {
		for _, slot := range spec.Slots {
			key := NormalizePlaceholder(slot.Name)
			if key != "" && !seen[key] {
				seen[key] = true
				names = append(names, key)
			}
		}
	}
	for _, token := range ExtractPlaceholderTokens(sqlPattern) {
		key := NormalizePlaceholder(token)
		if key != "" && !seen[key] {
			seen[key] = true
			names = append(names, key)
		}
	}
	return names
}

// NormalizeStringList trims entries, drops empties, and deduplicates while
// preserving first-seen order. Applied uniformly to keywords, tags, and
// examples so template metadata never carries blank or duplicate entries.
func NormalizeStringList(values []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	return out
}
