package pipeline

import (
	"fmt"
	"time"

	"github.com/asap007/ninisina-test/internal/consultation"
)

const (
	followUpDueIn = 14 * 24 * time.Hour
	urgentDueIn   = 24 * time.Hour

	confidenceBase = 0.70
	confidenceStep = 0.10
	confidenceMax  = 0.98
)

// GenerateFollowUpReminders derives reminders from the sanitized insights:
// one "followup" reminder per item of every Follow-up recommendation, due in
// 14 days, and one "urgent" reminder per Critical red flag, due in 1 day.
// Missing substructures simply contribute no reminders.
func GenerateFollowUpReminders(insights consultation.MedicalInsights, now time.Time) []consultation.FollowUpReminder {
	reminders := []consultation.FollowUpReminder{}

	for _, rec := range insights.Recommendations {
		if rec.Category != consultation.CategoryFollowUp {
			continue
		}
		for _, item := range rec.Items {
			reminders = append(reminders, consultation.FollowUpReminder{
				Type:    consultation.ReminderFollowUp,
				Message: item,
				DueDate: now.Add(followUpDueIn),
			})
		}
	}

	for _, flag := range insights.RedFlags {
		if flag.Status != consultation.RedFlagCritical {
			continue
		}
		reminders = append(reminders, consultation.FollowUpReminder{
			Type:    consultation.ReminderUrgent,
			Message: fmt.Sprintf("Urgent Action: %s - %s", flag.Flag, flag.RecommendedAction),
			DueDate: now.Add(urgentDueIn),
		})
	}

	return reminders
}

// CalculateConfidenceScore is a heuristic completeness indicator, not a
// probability: base 0.70, plus 0.10 for each of a multi-entry differential,
// any red flag, and non-empty guidelines, clamped to 0.98.
func CalculateConfidenceScore(insights consultation.MedicalInsights) float64 {
	score := confidenceBase
	if len(insights.DifferentialDiagnosis) > 1 {
		score += confidenceStep
	}
	if len(insights.RedFlags) > 0 {
		score += confidenceStep
	}
	if insights.ClinicalDecisionSupport.Guidelines != "" {
		score += confidenceStep
	}
	if score > confidenceMax {
		score = confidenceMax
	}
	return score
}
