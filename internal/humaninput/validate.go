package humaninput

import (
	"fmt"
	"strings"

	"github.com/intelforge/intelforge/pkg/models"
)

type fieldKind int

const (
	kindNumber   fieldKind = iota
	kindFraction           // number in [0, 1]
	kindString
	kindList
	kindNumberList
)

// requiredFields is the per-type schema: every listed field must be present
// and well-typed for a response to be accepted.
var requiredFields = map[string]map[string]fieldKind{
	models.InputTypeKeywordLookup: {
		"volume":      kindNumber,
		"competition": kindFraction,
		"cost":        kindNumber,
	},
	models.InputTypeAnalyticsExport: {
		"sessions":        kindNumber,
		"conversion_rate": kindFraction,
		"top_pages":       kindList,
	},
	models.InputTypeCompetitorPricing: {
		"competitor":    kindString,
		"price_points":  kindNumberList,
		"billing_model": kindString,
	},
}

// buildInstructions renders the type-specific, human-readable ask. Unknown
// types get a generic message and no automatic validation help.
func buildInstructions(inputType string, requestData map[string]any) string {
	switch inputType {
	case models.InputTypeKeywordLookup:
		keywords := "the target keywords"
		if kw, ok := requestData["keywords"].(string); ok && kw != "" {
			keywords = kw
		}
		return fmt.Sprintf("Look up %s in your keyword research tool and report back: "+
			"volume (monthly searches), competition (0-1), and cost (avg. cost per click).", keywords)
	case models.InputTypeAnalyticsExport:
		return "Export the last 90 days from your analytics platform and report back: " +
			"sessions (total), conversion_rate (0-1), and top_pages (list of the top landing pages)."
	case models.InputTypeCompetitorPricing:
		return "Collect published pricing for the named competitor and report back: " +
			"competitor (name), price_points (list of prices), and billing_model (e.g. monthly, usage-based)."
	default:
		return "Human input is required to continue this phase. Provide the requested data to resume."
	}
}

// validateResponse checks a submitted payload against the input type's
// schema. Unknown types fail closed.
func validateResponse(inputType string, response map[string]any) error {
	schema, ok := requiredFields[inputType]
	if !ok {
		return &ValidationError{
			InputType: inputType,
			Reason:    "unknown input type, cannot validate automatically",
		}
	}

	var missing, malformed []string
	for field, kind := range schema {
		value, present := response[field]
		if !present {
			missing = append(missing, field)
			continue
		}
		if !wellTyped(value, kind) {
			malformed = append(malformed, field)
		}
	}

	if len(missing) > 0 || len(malformed) > 0 {
		var parts []string
		if len(missing) > 0 {
			parts = append(parts, "missing fields: "+strings.Join(missing, ", "))
		}
		if len(malformed) > 0 {
			parts = append(parts, "malformed fields: "+strings.Join(malformed, ", "))
		}
		return &ValidationError{InputType: inputType, Reason: strings.Join(parts, "; ")}
	}
	return nil
}

func wellTyped(value any, kind fieldKind) bool {
	switch kind {
	case kindNumber:
		_, ok := asNumber(value)
		return ok
	case kindFraction:
		n, ok := asNumber(value)
		return ok && n >= 0 && n <= 1
	case kindString:
		s, ok := value.(string)
		return ok && s != ""
	case kindList:
		items, ok := asList(value)
		return ok && len(items) > 0
	case kindNumberList:
		items, ok := asList(value)
		if !ok || len(items) == 0 {
			return false
		}
		for _, item := range items {
			if _, ok := asNumber(item); !ok {
				return false
			}
		}
		return true
	}
	return false
}

// asNumber accepts the numeric shapes JSON decoding produces.
func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func asList(value any) ([]any, bool) {
	switch items := value.(type) {
	case []any:
		return items, true
	case []string:
		out := make([]any, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
