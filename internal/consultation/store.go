package consultation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// ListFilter narrows a listing. Zero values mean "no constraint".
type ListFilter struct {
	PatientName string // case-insensitive substring match
	PatientID   string // exact external patient id
	StartDate   *time.Time
	EndDate     *time.Time
}

type ListOptions struct {
	Filter     ListFilter
	SortBy     string // createdAt, updatedAt, patientName or confidenceScore
	Descending bool
	Page       int // 1-based
	PageSize   int
}

type Pagination struct {
	Page         int `json:"page"`
	PageSize     int `json:"pageSize"`
	Total        int `json:"total"` // number of pages
	TotalRecords int `json:"totalRecords"`
}

// ListResult holds one page of consultations. Transcripts are omitted to keep
// listing payloads small.
type ListResult struct {
	Consultations []*Consultation `json:"consultations"`
	Pagination    Pagination      `json:"pagination"`
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Stats struct {
	TotalConsultations int          `json:"totalConsultations"`
	AverageConfidence  float64      `json:"averageConfidence"`
	UniquePatients     int          `json:"uniquePatients"`
	Daily              []DailyCount `json:"daily"`
}

type Store interface {
	Create(ctx context.Context, c *Consultation) (*Consultation, error)
	GetByID(ctx context.Context, id string) (*Consultation, error)
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) (*Consultation, error)
	Delete(ctx context.Context, id string) error
	AppendPrescription(ctx context.Context, id string, p Prescription) error
	AggregateStats(ctx context.Context, start, end *time.Time) (*Stats, error)
}

type postgresStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

const uniqueViolation = "23505"

func (s *postgresStore) Create(ctx context.Context, c *Consultation) (*Consultation, error) {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	patientInfo, err := json.Marshal(c.PatientInfo)
	if err != nil {
		return nil, errors.Wrap(err, "marshal patient info")
	}
	summary, err := json.Marshal(c.ClinicalSummary)
	if err != nil {
		return nil, errors.Wrap(err, "marshal clinical summary")
	}
	insights, err := json.Marshal(c.MedicalInsights)
	if err != nil {
		return nil, errors.Wrap(err, "marshal medical insights")
	}
	keyPoints, err := json.Marshal(c.KeyPoints)
	if err != nil {
		return nil, errors.Wrap(err, "marshal key points")
	}
	reminders, err := json.Marshal(c.FollowUpReminders)
	if err != nil {
		return nil, errors.Wrap(err, "marshal reminders")
	}
	metadata, err := json.Marshal(c.AnalysisMetadata)
	if err != nil {
		return nil, errors.Wrap(err, "marshal analysis metadata")
	}
	if c.Prescriptions == nil {
		c.Prescriptions = []Prescription{}
	}
	prescriptions, err := json.Marshal(c.Prescriptions)
	if err != nil {
		return nil, errors.Wrap(err, "marshal prescriptions")
	}

	query := `
		INSERT INTO consultations
			(consultation_id, patient_info, patient_name, patient_ref, transcript,
			 clinical_summary, medical_insights, key_points, follow_up_reminders,
			 analysis_metadata, prescriptions, confidence_score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.db.ExecContext(ctx, query,
		c.ConsultationID, patientInfo, c.PatientInfo.Name, c.PatientInfo.PatientID,
		c.Transcript, summary, insights, keyPoints, reminders, metadata,
		prescriptions, c.AnalysisMetadata.ConfidenceScore, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return nil, &DuplicateIDError{ConsultationID: c.ConsultationID}
		}
		return nil, errors.Wrap(err, "insert consultation")
	}
	return c, nil
}

const selectColumns = `
	consultation_id, patient_info, transcript, clinical_summary, medical_insights,
	key_points, follow_up_reminders, analysis_metadata, prescriptions, created_at, updated_at`

func (s *postgresStore) GetByID(ctx context.Context, id string) (*Consultation, error) {
	query := `SELECT` + selectColumns + ` FROM consultations WHERE consultation_id = $1`
	c, err := scanConsultation(s.db.QueryRowContext(ctx, query, id), true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{ConsultationID: id}
		}
		return nil, errors.Wrap(err, "get consultation")
	}
	return c, nil
}

// sortColumn maps caller-facing sort field names onto real columns. Unknown
// names fall back to creation time.
func sortColumn(field string) string {
	switch field {
	case "updatedAt":
		return "updated_at"
	case "patientName":
		return "patient_name"
	case "confidenceScore":
		return "confidence_score"
	case "createdAt", "":
		return "created_at"
	default:
		return "created_at"
	}
}

// buildListFilter turns a ListFilter into a WHERE clause with numbered args,
// starting at $1.
func buildListFilter(f ListFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if f.PatientName != "" {
		args = append(args, "%"+f.PatientName+"%")
		conditions = append(conditions, fmt.Sprintf("patient_name ILIKE $%d", len(args)))
	}
	if f.PatientID != "" {
		args = append(args, f.PatientID)
		conditions = append(conditions, fmt.Sprintf("patient_ref = $%d", len(args)))
	}
	if f.StartDate != nil {
		args = append(args, *f.StartDate)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.EndDate != nil {
		args = append(args, *f.EndDate)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func normalizePaging(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func pageCount(total, pageSize int) int {
	return (total + pageSize - 1) / pageSize
}

func (s *postgresStore) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	page, pageSize := normalizePaging(opts.Page, opts.PageSize)
	where, args := buildListFilter(opts.Filter)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM consultations"+where, args...).Scan(&total); err != nil {
		return nil, errors.Wrap(err, "count consultations")
	}

	direction := "ASC"
	if opts.Descending {
		direction = "DESC"
	}

	// Transcript is excluded from listings; NULL keeps the scan shape uniform.
	query := fmt.Sprintf(`SELECT
		consultation_id, patient_info, NULL, clinical_summary, medical_insights,
		key_points, follow_up_reminders, analysis_metadata, prescriptions, created_at, updated_at
		FROM consultations%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		where, sortColumn(opts.SortBy), direction, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list consultations")
	}
	defer rows.Close()

	records := []*Consultation{}
	for rows.Next() {
		c, err := scanConsultation(rows, false)
		if err != nil {
			return nil, errors.Wrap(err, "scan consultation row")
		}
		records = append(records, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate consultations")
	}

	return &ListResult{
		Consultations: records,
		Pagination: Pagination{
			Page:         page,
			PageSize:     pageSize,
			Total:        pageCount(total, pageSize),
			TotalRecords: total,
		},
	}, nil
}

// updatableColumns whitelists caller-facing field names for Update. The value
// is the target column; jsonb columns get their payload marshalled.
var updatableColumns = map[string]struct {
	column string
	jsonb  bool
}{
	"patientInfo":       {"patient_info", true},
	"clinicalSummary":   {"clinical_summary", true},
	"medicalInsights":   {"medical_insights", true},
	"keyPoints":         {"key_points", true},
	"followUpReminders": {"follow_up_reminders", true},
	"analysisMetadata":  {"analysis_metadata", true},
	"transcript":        {"transcript", false},
}

// immutableFields are rejected outright rather than silently dropped.
var immutableFields = map[string]bool{
	"consultationId": true,
	"createdAt":      true,
	"id":             true,
	"_id":            true,
}

// validateUpdateFields checks the partial update against the whitelist and
// returns column assignments with numbered placeholders starting at $1.
func validateUpdateFields(fields map[string]interface{}) ([]string, []interface{}, error) {
	if len(fields) == 0 {
		return nil, nil, &ValidationError{Field: "fields", Reason: "no fields to update"}
	}

	var assignments []string
	var args []interface{}

	for name, value := range fields {
		if immutableFields[name] {
			return nil, nil, &ImmutableFieldError{Field: name}
		}
		col, ok := updatableColumns[name]
		if !ok {
			return nil, nil, &ValidationError{Field: name, Reason: "unknown field"}
		}

		if col.jsonb {
			raw, err := json.Marshal(value)
			if err != nil {
				return nil, nil, &ValidationError{Field: name, Reason: "not serializable"}
			}
			args = append(args, raw)
		} else {
			text, ok := value.(string)
			if !ok {
				return nil, nil, &ValidationError{Field: name, Reason: "must be a string"}
			}
			// A persisted record never carries an empty transcript.
			if strings.TrimSpace(text) == "" {
				return nil, nil, &ValidationError{Field: name, Reason: "must not be empty"}
			}
			args = append(args, text)
		}
		assignments = append(assignments, fmt.Sprintf("%s = $%d", col.column, len(args)))
	}

	return assignments, args, nil
}

// appendDenormalizedColumns keeps the filter and stats columns in sync with
// their source documents: patient_name/patient_ref follow patientInfo and
// confidence_score follows analysisMetadata.
func appendDenormalizedColumns(fields map[string]interface{}, assignments []string, args []interface{}) ([]string, []interface{}) {
	if value, ok := fields["patientInfo"]; ok {
		raw, _ := json.Marshal(value)
		var info PatientInfo
		if err := json.Unmarshal(raw, &info); err == nil {
			args = append(args, info.Name)
			assignments = append(assignments, fmt.Sprintf("patient_name = $%d", len(args)))
			args = append(args, info.PatientID)
			assignments = append(assignments, fmt.Sprintf("patient_ref = $%d", len(args)))
		}
	}

	if value, ok := fields["analysisMetadata"]; ok {
		raw, _ := json.Marshal(value)
		var meta AnalysisMetadata
		if err := json.Unmarshal(raw, &meta); err == nil {
			args = append(args, meta.ConfidenceScore)
			assignments = append(assignments, fmt.Sprintf("confidence_score = $%d", len(args)))
		}
	}

	return assignments, args
}

func (s *postgresStore) Update(ctx context.Context, id string, fields map[string]interface{}) (*Consultation, error) {
	assignments, args, err := validateUpdateFields(fields)
	if err != nil {
		return nil, err
	}

	assignments, args = appendDenormalizedColumns(fields, assignments, args)

	assignments = append(assignments, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE consultations SET %s WHERE consultation_id = $%d",
		strings.Join(assignments, ", "), len(args))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "update consultation")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "update consultation rows affected")
	}
	if affected == 0 {
		return nil, &NotFoundError{ConsultationID: id}
	}

	return s.GetByID(ctx, id)
}

func (s *postgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM consultations WHERE consultation_id = $1", id)
	if err != nil {
		return errors.Wrap(err, "delete consultation")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete consultation rows affected")
	}
	if affected == 0 {
		return &NotFoundError{ConsultationID: id}
	}
	return nil
}

// AppendPrescription links a generated prescription to its consultation. A
// missing record is logged but not surfaced: prescription generation must not
// fail because linking failed.
func (s *postgresStore) AppendPrescription(ctx context.Context, id string, p Prescription) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal prescription")
	}

	query := `
		UPDATE consultations
		SET prescriptions = COALESCE(prescriptions, '[]'::jsonb) || $2::jsonb,
		    updated_at = NOW()
		WHERE consultation_id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, raw)
	if err != nil {
		return errors.Wrap(err, "append prescription")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "append prescription rows affected")
	}
	if affected == 0 {
		log.Printf("prescription %s not linked: consultation %s not found", p.PrescriptionID, id)
	}
	return nil
}

func (s *postgresStore) AggregateStats(ctx context.Context, start, end *time.Time) (*Stats, error) {
	where, args := buildListFilter(ListFilter{StartDate: start, EndDate: end})

	stats := &Stats{Daily: []DailyCount{}}
	summaryQuery := `
		SELECT COUNT(*),
		       COALESCE(AVG(confidence_score), 0),
		       COUNT(DISTINCT patient_ref) FILTER (WHERE patient_ref <> '')
		FROM consultations` + where
	err := s.db.QueryRowContext(ctx, summaryQuery, args...).
		Scan(&stats.TotalConsultations, &stats.AverageConfidence, &stats.UniquePatients)
	if err != nil {
		return nil, errors.Wrap(err, "aggregate consultation stats")
	}

	dailyQuery := `
		SELECT to_char(created_at, 'YYYY-MM-DD') AS day, COUNT(*)
		FROM consultations` + dailyCountsWhere(where) + `
		GROUP BY day ORDER BY day`

	rows, err := s.db.QueryContext(ctx, dailyQuery, args...)
	if err != nil {
		return nil, errors.Wrap(err, "daily consultation counts")
	}
	defer rows.Close()

	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, errors.Wrap(err, "scan daily count")
		}
		stats.Daily = append(stats.Daily, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate daily counts")
	}
	return stats, nil
}

// dailyCountsWhere limits the per-day series to the most recent 30 days,
// splicing the window onto any caller-supplied date filter.
func dailyCountsWhere(where string) string {
	if where == "" {
		return " WHERE created_at >= NOW() - INTERVAL '30 days'"
	}
	return where + " AND created_at >= NOW() - INTERVAL '30 days'"
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConsultation(row rowScanner, withTranscript bool) (*Consultation, error) {
	var c Consultation
	var transcript sql.NullString
	var patientInfo, summary, insights, keyPoints, reminders, metadata, prescriptions []byte

	err := row.Scan(
		&c.ConsultationID,
		&patientInfo,
		&transcript,
		&summary,
		&insights,
		&keyPoints,
		&reminders,
		&metadata,
		&prescriptions,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if withTranscript {
		c.Transcript = transcript.String
	}
	for _, field := range []struct {
		raw  []byte
		dest interface{}
	}{
		{patientInfo, &c.PatientInfo},
		{summary, &c.ClinicalSummary},
		{insights, &c.MedicalInsights},
		{keyPoints, &c.KeyPoints},
		{reminders, &c.FollowUpReminders},
		{metadata, &c.AnalysisMetadata},
		{prescriptions, &c.Prescriptions},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dest); err != nil {
			return nil, errors.Wrap(err, "unmarshal consultation field")
		}
	}

	if c.KeyPoints == nil {
		c.KeyPoints = []string{}
	}
	if c.FollowUpReminders == nil {
		c.FollowUpReminders = []FollowUpReminder{}
	}
	if c.Prescriptions == nil {
		c.Prescriptions = []Prescription{}
	}
	return &c, nil
}
