package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/asap007/ninisina-test/internal/consultation"
	"github.com/asap007/ninisina-test/internal/gateway"
)

// unableToExtract marks every text field of the fallback analysis substituted
// when the analysis stage cannot produce valid output.
const unableToExtract = "Unable to extract"

// analyze requests the structured clinical analysis as a single low-temperature
// JSON call. The raw payload is returned as a map; shape repair is the
// sanitizer's job. A failed call or unparseable content is an error the
// orchestrator answers with the fallback object.
func (o *Orchestrator) analyze(ctx context.Context, transcript string, patient consultation.PatientInfo) (map[string]interface{}, error) {
	content, err := o.gw.Complete(ctx, gateway.CompletionRequest{
		System:       o.prompts.AnalysisSystem,
		User:         buildAnalysisUserPrompt(transcript, patient),
		Temperature:  0.2,
		MaxTokens:    2048,
		JSONResponse: true,
	})
	if err != nil {
		return nil, err
	}

	obj := extractJSONObject(content)
	if obj == "" {
		return nil, errors.New("analysis response contained no JSON object")
	}
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, errors.Wrap(err, "parse analysis response")
	}
	return raw, nil
}

// fallbackAnalysis is substituted when the analysis stage fails: every text
// field carries an explicit marker and every list is empty.
func fallbackAnalysis() map[string]interface{} {
	return map[string]interface{}{
		"clinicalSummary": map[string]interface{}{
			"chiefComplaint":          unableToExtract,
			"historyOfPresentIllness": unableToExtract,
			"assessment":              unableToExtract,
			"plan":                    unableToExtract,
			"vitals":                  "Not recorded",
			"riskFactors":             []interface{}{},
		},
		"medicalInsights": map[string]interface{}{
			"differentialDiagnosis": []interface{}{},
			"redFlags":              []interface{}{},
			"recommendations":       []interface{}{},
			"clinicalDecisionSupport": map[string]interface{}{
				"guidelines":         "",
				"evidenceLevel":      "",
				"recommendedActions": []interface{}{},
			},
		},
	}
}

// toAnalysis decodes a sanitized analysis map into the typed form the rest of
// the system consumes. After sanitization the three insight lists always
// decode; anything unrecognized collapses to zero values.
func toAnalysis(raw map[string]interface{}) consultation.Analysis {
	var a consultation.Analysis
	if buf, err := json.Marshal(raw); err == nil {
		_ = json.Unmarshal(buf, &a)
	}
	if a.ClinicalSummary.RiskFactors == nil {
		a.ClinicalSummary.RiskFactors = []string{}
	}
	if a.MedicalInsights.DifferentialDiagnosis == nil {
		a.MedicalInsights.DifferentialDiagnosis = []consultation.DifferentialDiagnosisEntry{}
	}
	if a.MedicalInsights.RedFlags == nil {
		a.MedicalInsights.RedFlags = []consultation.RedFlag{}
	}
	if a.MedicalInsights.Recommendations == nil {
		a.MedicalInsights.Recommendations = []consultation.Recommendation{}
	}
	if a.MedicalInsights.ClinicalDecisionSupport.RecommendedActions == nil {
		a.MedicalInsights.ClinicalDecisionSupport.RecommendedActions = []string{}
	}
	return a
}

// extractJSONObject returns the first balanced top-level JSON object in the
// input, tolerating prose or code fences around it.
func extractJSONObject(input string) string {
	start := strings.Index(input, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(input); i++ {
		ch := input[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return input[start : i+1]
			}
		}
	}
	return ""
}
