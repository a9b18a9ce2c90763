package pipeline

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/asap007/ninisina-test/internal/consultation"
	"github.com/asap007/ninisina-test/internal/gateway"
)

// persistWarning tags a response whose record was computed but could not be
// saved. Persistence is best-effort from the caller's point of view.
const persistWarning = "Analysis completed but the record could not be saved"

// Pipeline states, in execution order. Only Received can reject; every later
// stage either succeeds or degrades to a documented default.
type state string

const (
	stateReceived    state = "Received"
	stateDiarized    state = "Diarized"
	stateAnalyzed    state = "Analyzed"
	stateFallback    state = "Fallback"
	stateSanitized   state = "Sanitized"
	stateKeyPoints   state = "KeyPointsExtracted"
	stateDegraded    state = "Degraded"
	stateDerived     state = "Derived"
	statePersisted   state = "Persisted"
	statePersistFail state = "PersistFailed"
	stateResponded   state = "Responded"
	stateRejected    state = "RequestRejected"
)

// Orchestrator runs the consultation pipeline: diarize, analyze, sanitize,
// extract key points, derive reminders and confidence, persist. One call per
// incoming request; stages run strictly in order.
type Orchestrator struct {
	gw      gateway.Client
	store   consultation.Store
	prompts Prompts
	model   string
	now     func() time.Time
}

func NewOrchestrator(gw gateway.Client, store consultation.Store, model string) *Orchestrator {
	return &Orchestrator{
		gw:      gw,
		store:   store,
		prompts: DefaultPrompts(),
		model:   model,
		now:     time.Now,
	}
}

// Process turns a raw transcript into a persisted consultation record. It
// returns the assembled record, a warning when persistence failed, and an
// error only when the input itself is invalid.
func (o *Orchestrator) Process(ctx context.Context, transcript string, patient consultation.PatientInfo, durationLabel string) (*consultation.Consultation, string, error) {
	current := stateReceived
	if strings.TrimSpace(transcript) == "" {
		o.advance(current, stateRejected, false, "")
		return nil, "", &consultation.ValidationError{Field: "transcript", Reason: "must not be empty"}
	}

	labeled, degraded := o.diarize(ctx, transcript)
	current = o.advance(current, stateDiarized, degraded, "diarization")

	raw, err := o.analyze(ctx, labeled, patient)
	if err != nil {
		log.Printf("analysis failed, substituting fallback content: %v", err)
		raw = fallbackAnalysis()
		current = o.advance(current, stateFallback, false, "")
	} else {
		current = o.advance(current, stateAnalyzed, false, "")
	}

	analysis := toAnalysis(Sanitize(raw))
	current = o.advance(current, stateSanitized, false, "")

	points, degraded := o.keyPoints(ctx, labeled)
	if degraded {
		current = o.advance(current, stateDegraded, true, "key point extraction")
	} else {
		current = o.advance(current, stateKeyPoints, false, "")
	}

	now := o.now().UTC()
	reminders := GenerateFollowUpReminders(analysis.MedicalInsights, now)
	confidence := CalculateConfidenceScore(analysis.MedicalInsights)
	current = o.advance(current, stateDerived, false, "")

	record := &consultation.Consultation{
		ConsultationID:    uuid.New().String(),
		PatientInfo:       patient,
		Transcript:        labeled,
		ClinicalSummary:   analysis.ClinicalSummary,
		MedicalInsights:   analysis.MedicalInsights,
		KeyPoints:         points,
		FollowUpReminders: reminders,
		AnalysisMetadata: consultation.AnalysisMetadata{
			ProcessedAt:          now,
			TranscriptLength:     len(labeled),
			AIModel:              o.model,
			ConfidenceScore:      confidence,
			ConsultationDuration: durationLabel,
		},
		Prescriptions: []consultation.Prescription{},
	}

	warning := ""
	if stored, err := o.store.Create(ctx, record); err != nil {
		log.Printf("persisting consultation %s failed: %v", record.ConsultationID, err)
		warning = persistWarning
		current = o.advance(current, statePersistFail, true, "persistence")
	} else {
		record = stored
		current = o.advance(current, statePersisted, false, "")
	}

	o.advance(current, stateResponded, false, "")
	return record, warning, nil
}

func (o *Orchestrator) advance(from, to state, degraded bool, reason string) state {
	if degraded {
		log.Printf("pipeline %s -> %s (degraded: %s)", from, to, reason)
	} else {
		log.Printf("pipeline %s -> %s", from, to)
	}
	return to
}
