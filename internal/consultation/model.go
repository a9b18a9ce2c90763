package consultation

import "time"

// Red flag statuses as produced by the analysis stage.
const (
	RedFlagCritical = "Critical"
	RedFlagMonitor  = "Monitor"
	RedFlagNoted    = "Noted"
)

// Recommendation categories.
const (
	CategoryImmediate = "Immediate"
	CategoryFollowUp  = "Follow-up"
	CategoryLifestyle = "Lifestyle"
)

// Reminder types.
const (
	ReminderFollowUp = "followup"
	ReminderUrgent   = "urgent"
)

// PatientInfo is supplied by the caller; every field is optional.
type PatientInfo struct {
	Name      string `json:"name,omitempty"`
	Age       string `json:"age,omitempty"`
	Gender    string `json:"gender,omitempty"`
	VisitType string `json:"visitType,omitempty"`
	PatientID string `json:"patientId,omitempty"`
}

type ClinicalSummary struct {
	ChiefComplaint          string   `json:"chiefComplaint"`
	HistoryOfPresentIllness string   `json:"historyOfPresentIllness"`
	Assessment              string   `json:"assessment"`
	Plan                    string   `json:"plan"`
	Vitals                  string   `json:"vitals"`
	RiskFactors             []string `json:"riskFactors"`
}

type DifferentialDiagnosisEntry struct {
	Condition   string `json:"condition"`
	Probability string `json:"probability"`
	Reasoning   string `json:"reasoning"`
	ICD10       string `json:"icd10"`
}

type RedFlag struct {
	Flag              string `json:"flag"`
	Status            string `json:"status"`
	RecommendedAction string `json:"recommendedAction"`
}

type Recommendation struct {
	Category string   `json:"category"`
	Items    []string `json:"items"`
}

type ClinicalDecisionSupport struct {
	Guidelines         string   `json:"guidelines"`
	EvidenceLevel      string   `json:"evidenceLevel"`
	RecommendedActions []string `json:"recommendedActions"`
}

type MedicalInsights struct {
	DifferentialDiagnosis   []DifferentialDiagnosisEntry `json:"differentialDiagnosis"`
	RedFlags                []RedFlag                    `json:"redFlags"`
	Recommendations         []Recommendation             `json:"recommendations"`
	ClinicalDecisionSupport ClinicalDecisionSupport      `json:"clinicalDecisionSupport"`
}

// Analysis is the sanitized output of the clinical analysis stage. Raw AI
// output never crosses this boundary unvalidated.
type Analysis struct {
	ClinicalSummary ClinicalSummary `json:"clinicalSummary"`
	MedicalInsights MedicalInsights `json:"medicalInsights"`
}

type FollowUpReminder struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	DueDate time.Time `json:"dueDate"`
}

type AnalysisMetadata struct {
	ProcessedAt          time.Time `json:"processedAt"`
	TranscriptLength     int       `json:"transcriptLength"`
	AIModel              string    `json:"aiModel"`
	ConfidenceScore      float64   `json:"confidenceScore"`
	ConsultationDuration string    `json:"consultationDuration"`
}

type Medication struct {
	Name         string  `json:"name"`
	Dosage       string  `json:"dosage"`
	Frequency    string  `json:"frequency"`
	Duration     string  `json:"duration"`
	Instructions *string `json:"instructions"`
}

type Prescription struct {
	PrescriptionID         string       `json:"prescriptionId"`
	Medications            []Medication `json:"medications"`
	AdditionalInstructions *string      `json:"additionalInstructions"`
	CreatedAt              time.Time    `json:"createdAt"`
}

// Consultation is the aggregate root, owned exclusively by the Store once
// persisted. ConsultationID is assigned at creation and never reassigned.
type Consultation struct {
	ConsultationID    string             `json:"consultationId"`
	PatientInfo       PatientInfo        `json:"patientInfo"`
	Transcript        string             `json:"transcript,omitempty"`
	ClinicalSummary   ClinicalSummary    `json:"clinicalSummary"`
	MedicalInsights   MedicalInsights    `json:"medicalInsights"`
	KeyPoints         []string           `json:"keyPoints"`
	FollowUpReminders []FollowUpReminder `json:"followUpReminders"`
	AnalysisMetadata  AnalysisMetadata   `json:"analysisMetadata"`
	Prescriptions     []Prescription     `json:"prescriptions"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}
