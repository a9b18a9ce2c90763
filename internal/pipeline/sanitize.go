package pipeline

import (
	"encoding/json"
	"fmt"
)

// Sanitize normalizes a raw analysis payload to the fixed schema: the two
// top-level sections always exist, the three insight collections are always
// lists, clinicalDecisionSupport always has its defaults, and a plan delivered
// as an object is flattened to a string. Sanitize never fails; if anything
// panics mid-repair the original payload is returned unchanged. It is
// idempotent.
func Sanitize(raw map[string]interface{}) (out map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			out = raw
		}
	}()

	out = make(map[string]interface{}, len(raw))
	for k, v := range raw {
		out[k] = v
	}

	summary := asObject(out["clinicalSummary"])
	summary["plan"] = flattenPlan(summary["plan"])
	out["clinicalSummary"] = summary

	insights := asObject(out["medicalInsights"])
	for _, key := range []string{"recommendations", "redFlags", "differentialDiagnosis"} {
		if _, ok := insights[key].([]interface{}); !ok {
			insights[key] = []interface{}{}
		}
	}
	if _, ok := insights["clinicalDecisionSupport"].(map[string]interface{}); !ok {
		insights["clinicalDecisionSupport"] = map[string]interface{}{
			"guidelines":         "",
			"evidenceLevel":      "",
			"recommendedActions": []interface{}{},
		}
	}
	out["medicalInsights"] = insights

	return out
}

func asObject(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		copied := make(map[string]interface{}, len(m))
		for k, val := range m {
			copied[k] = val
		}
		return copied
	}
	return map[string]interface{}{}
}

// flattenPlan repairs a plan delivered as an object instead of a string. With
// recognized sub-fields it becomes the three-line Immediate/Follow-up/
// Additional format; otherwise it is serialized to its textual JSON form.
func flattenPlan(plan interface{}) interface{} {
	obj, ok := plan.(map[string]interface{})
	if !ok {
		return plan
	}

	immediate, hasImmediate := planField(obj, "immediate")
	followUp, hasFollowUp := planField(obj, "followUp", "follow_up", "followup")
	additional, hasAdditional := planField(obj, "additional")

	if hasImmediate || hasFollowUp || hasAdditional {
		return fmt.Sprintf("Immediate: %s\nFollow-up: %s\nAdditional: %s", immediate, followUp, additional)
	}

	serialized, err := json.Marshal(obj)
	if err != nil {
		return fmt.Sprintf("%v", obj)
	}
	return string(serialized)
}

func planField(obj map[string]interface{}, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
			return fmt.Sprintf("%v", v), true
		}
	}
	return "", false
}
