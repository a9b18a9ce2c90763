package pipeline

import (
	"fmt"
	"strings"

	"github.com/asap007/ninisina-test/internal/consultation"
)

// Prompts holds the instruction templates for every AI stage. They are loaded
// once at startup and passed in explicitly; stages never reach for ambient
// state.
type Prompts struct {
	DiarizationSystem string
	AnalysisSystem    string
	KeyPointsSystem   string
}

func DefaultPrompts() Prompts {
	return Prompts{
		DiarizationSystem: strings.TrimSpace(`
You are a medical transcript formatter. Label each line of the consultation
transcript with the speaker role "Doctor:" or "Patient:".
Rules:
- preserve the wording of every line verbatim, change nothing but the labels
- do not summarize, merge or reorder lines
- output only the labeled transcript`),

		AnalysisSystem: strings.TrimSpace(`
You are a clinical documentation assistant. Extract a structured clinical
analysis from the consultation transcript.
Return STRICT JSON ONLY with exactly this shape:
{
  "clinicalSummary": {
    "chiefComplaint": string,
    "historyOfPresentIllness": string,
    "assessment": string,
    "plan": string,
    "vitals": string ("Not recorded" when none are mentioned),
    "riskFactors": [string]
  },
  "medicalInsights": {
    "differentialDiagnosis": [{"condition": string, "probability": string, "reasoning": string, "icd10": string}],
    "redFlags": [{"flag": string, "status": "Critical"|"Monitor"|"Noted", "recommendedAction": string}],
    "recommendations": [{"category": "Immediate"|"Follow-up"|"Lifestyle", "items": [string]}],
    "clinicalDecisionSupport": {"guidelines": string, "evidenceLevel": "Level A"|"Level B"|"Level C", "recommendedActions": [string]}
  }
}
Use only information present in the transcript; never invent findings.`),

		KeyPointsSystem: strings.TrimSpace(`
You are a medical scribe. Extract the 5-8 most important key points from the
consultation transcript as a short bullet list, one point per line, each
starting with "- ". Keep each point under 15 words. Output only the list.`),
	}
}

func buildAnalysisUserPrompt(transcript string, patient consultation.PatientInfo) string {
	var b strings.Builder
	b.WriteString("Patient information:\n")
	b.WriteString(fmt.Sprintf("- name: %s\n", orDash(patient.Name)))
	b.WriteString(fmt.Sprintf("- age: %s\n", orDash(patient.Age)))
	b.WriteString(fmt.Sprintf("- gender: %s\n", orDash(patient.Gender)))
	b.WriteString(fmt.Sprintf("- visit type: %s\n", orDash(patient.VisitType)))
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

func orDash(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "-"
	}
	return v
}
