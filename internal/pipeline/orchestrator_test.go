package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asap007/ninisina-test/internal/consultation"
	"github.com/asap007/ninisina-test/internal/gateway"
)

// fakeGateway scripts one response per stage, dispatched on the request shape:
// the analysis stage is the only JSON-mode call.
type fakeGateway struct {
	diarizeOut   string
	diarizeErr   error
	analysisOut  string
	analysisErr  error
	keyPointsOut string
	keyPointsErr error
}

func (f *fakeGateway) Complete(_ context.Context, req gateway.CompletionRequest) (string, error) {
	switch {
	case req.JSONResponse:
		return f.analysisOut, f.analysisErr
	case strings.Contains(req.System, "key points"):
		return f.keyPointsOut, f.keyPointsErr
	default:
		return f.diarizeOut, f.diarizeErr
	}
}

func (f *fakeGateway) Transcribe(context.Context, []byte, string) (string, error) {
	return "", nil
}

type fakeStore struct {
	records   map[string]*consultation.Consultation
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]*consultation.Consultation{}}
}

func (s *fakeStore) Create(_ context.Context, c *consultation.Consultation) (*consultation.Consultation, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	if _, exists := s.records[c.ConsultationID]; exists {
		return nil, &consultation.DuplicateIDError{ConsultationID: c.ConsultationID}
	}
	s.records[c.ConsultationID] = c
	return c, nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*consultation.Consultation, error) {
	c, ok := s.records[id]
	if !ok {
		return nil, &consultation.NotFoundError{ConsultationID: id}
	}
	return c, nil
}

func (s *fakeStore) List(context.Context, consultation.ListOptions) (*consultation.ListResult, error) {
	return &consultation.ListResult{}, nil
}

func (s *fakeStore) Update(_ context.Context, id string, _ map[string]interface{}) (*consultation.Consultation, error) {
	return s.GetByID(context.Background(), id)
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	delete(s.records, id)
	return nil
}

func (s *fakeStore) AppendPrescription(context.Context, string, consultation.Prescription) error {
	return nil
}

func (s *fakeStore) AggregateStats(context.Context, *time.Time, *time.Time) (*consultation.Stats, error) {
	return &consultation.Stats{}, nil
}

const validAnalysisJSON = `{
	"clinicalSummary": {
		"chiefComplaint": "Throbbing headache",
		"historyOfPresentIllness": "Throbbing pain for 3 days",
		"assessment": "Probable migraine",
		"plan": "Trial of NSAIDs, headache diary",
		"vitals": "Not recorded",
		"riskFactors": ["stress"]
	},
	"medicalInsights": {
		"differentialDiagnosis": [
			{"condition": "Migraine", "probability": "High (70%)", "reasoning": "episodic throbbing pain", "icd10": "G43.909"},
			{"condition": "Tension headache", "probability": "Moderate", "reasoning": "stress history", "icd10": "G44.209"}
		],
		"redFlags": [
			{"flag": "Pain worsening over days", "status": "Critical", "recommendedAction": "Urgent review"}
		],
		"recommendations": [
			{"category": "Follow-up", "items": ["Review in 2 weeks"]}
		],
		"clinicalDecisionSupport": {"guidelines": "NICE CG150", "evidenceLevel": "Level B", "recommendedActions": ["Headache diary"]}
	}
}`

const sampleTranscript = "Doctor asks about headache. Patient reports throbbing pain for 3 days."

func happyGateway() *fakeGateway {
	return &fakeGateway{
		diarizeOut:   "Doctor: asks about headache.\nPatient: reports throbbing pain for 3 days.",
		analysisOut:  validAnalysisJSON,
		keyPointsOut: "- Headache for 3 days\n- Throbbing quality\n- No vitals recorded",
	}
}

func TestProcess_RejectsEmptyTranscript(t *testing.T) {
	o := NewOrchestrator(happyGateway(), newFakeStore(), "test-model")

	for _, transcript := range []string{"", "   \n\t"} {
		record, warning, err := o.Process(context.Background(), transcript, consultation.PatientInfo{}, "")
		require.Error(t, err)

		var validationErr *consultation.ValidationError
		assert.ErrorAs(t, err, &validationErr)
		assert.Nil(t, record)
		assert.Empty(t, warning)
	}
}

func TestProcess_EndToEnd(t *testing.T) {
	gw := happyGateway()
	store := newFakeStore()
	o := NewOrchestrator(gw, store, "test-model")

	record, warning, err := o.Process(context.Background(), sampleTranscript, consultation.PatientInfo{}, "12 min")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Empty(t, warning)

	assert.NotEmpty(t, record.ConsultationID)
	assert.Equal(t, gw.diarizeOut, record.Transcript)
	assert.Equal(t, "Throbbing headache", record.ClinicalSummary.ChiefComplaint)
	assert.NotNil(t, record.MedicalInsights.RedFlags)
	assert.Len(t, record.KeyPoints, 3)
	assert.Equal(t, "Headache for 3 days", record.KeyPoints[0])

	require.Len(t, record.FollowUpReminders, 2)
	var urgent, followup time.Time
	for _, reminder := range record.FollowUpReminders {
		if reminder.Type == consultation.ReminderUrgent {
			urgent = reminder.DueDate
		} else {
			followup = reminder.DueDate
		}
	}
	assert.True(t, urgent.Before(followup))

	meta := record.AnalysisMetadata
	assert.Equal(t, "test-model", meta.AIModel)
	assert.Equal(t, len(gw.diarizeOut), meta.TranscriptLength)
	assert.Equal(t, "12 min", meta.ConsultationDuration)
	assert.GreaterOrEqual(t, meta.ConfidenceScore, 0.70)
	assert.LessOrEqual(t, meta.ConfidenceScore, 0.98)

	stored, err := store.GetByID(context.Background(), record.ConsultationID)
	require.NoError(t, err)
	assert.Equal(t, record.ConsultationID, stored.ConsultationID)
}

func TestProcess_DiarizationFailureKeepsOriginalTranscript(t *testing.T) {
	gw := happyGateway()
	gw.diarizeErr = &gateway.UpstreamError{StatusCode: 503, Body: "overloaded"}
	o := NewOrchestrator(gw, newFakeStore(), "test-model")

	record, warning, err := o.Process(context.Background(), sampleTranscript, consultation.PatientInfo{}, "")
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, sampleTranscript, record.Transcript)
	assert.Equal(t, "Throbbing headache", record.ClinicalSummary.ChiefComplaint)
}

func TestProcess_AnalysisFailureSubstitutesFallback(t *testing.T) {
	gw := happyGateway()
	gw.analysisErr = &gateway.UpstreamError{StatusCode: 500, Body: "boom"}
	store := newFakeStore()
	o := NewOrchestrator(gw, store, "test-model")

	record, warning, err := o.Process(context.Background(), sampleTranscript, consultation.PatientInfo{}, "")
	require.NoError(t, err)
	assert.Empty(t, warning)

	assert.Equal(t, unableToExtract, record.ClinicalSummary.ChiefComplaint)
	assert.Equal(t, unableToExtract, record.ClinicalSummary.Plan)
	assert.Equal(t, "Not recorded", record.ClinicalSummary.Vitals)
	assert.Empty(t, record.MedicalInsights.DifferentialDiagnosis)
	assert.Empty(t, record.MedicalInsights.RedFlags)
	assert.Empty(t, record.MedicalInsights.Recommendations)
	assert.Empty(t, record.FollowUpReminders)
	assert.Equal(t, 0.70, record.AnalysisMetadata.ConfidenceScore)

	_, err = store.GetByID(context.Background(), record.ConsultationID)
	assert.NoError(t, err)
}

func TestProcess_UnparseableAnalysisSubstitutesFallback(t *testing.T) {
	gw := happyGateway()
	gw.analysisOut = "I'm sorry, I cannot help with that."
	o := NewOrchestrator(gw, newFakeStore(), "test-model")

	record, _, err := o.Process(context.Background(), sampleTranscript, consultation.PatientInfo{}, "")
	require.NoError(t, err)
	assert.Equal(t, unableToExtract, record.ClinicalSummary.ChiefComplaint)
}

func TestProcess_KeyPointFailureDegradesToMarker(t *testing.T) {
	gw := happyGateway()
	gw.keyPointsErr = errors.New("timeout")
	o := NewOrchestrator(gw, newFakeStore(), "test-model")

	record, _, err := o.Process(context.Background(), sampleTranscript, consultation.PatientInfo{}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{keyPointsFallback}, record.KeyPoints)
}

func TestProcess_PersistenceFailureReturnsRecordWithWarning(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("connection refused")
	o := NewOrchestrator(happyGateway(), store, "test-model")

	record, warning, err := o.Process(context.Background(), sampleTranscript, consultation.PatientInfo{}, "")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, persistWarning, warning)
	assert.Equal(t, "Throbbing headache", record.ClinicalSummary.ChiefComplaint)
	assert.Empty(t, store.records)
}
