package consultation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildListFilter_Empty(t *testing.T) {
	where, args := buildListFilter(ListFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestBuildListFilter_AllConditions(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	where, args := buildListFilter(ListFilter{
		PatientName: "smith",
		PatientID:   "PAT-42",
		StartDate:   &start,
		EndDate:     &end,
	})

	assert.Equal(t, " WHERE patient_name ILIKE $1 AND patient_ref = $2 AND created_at >= $3 AND created_at <= $4", where)
	require.Len(t, args, 4)
	assert.Equal(t, "%smith%", args[0])
	assert.Equal(t, "PAT-42", args[1])
	assert.Equal(t, start, args[2])
	assert.Equal(t, end, args[3])
}

func TestBuildListFilter_PlaceholdersStayNumbered(t *testing.T) {
	end := time.Now()
	where, args := buildListFilter(ListFilter{PatientID: "P1", EndDate: &end})
	assert.Equal(t, " WHERE patient_ref = $1 AND created_at <= $2", where)
	assert.Len(t, args, 2)
}

func TestSortColumn_Whitelist(t *testing.T) {
	assert.Equal(t, "created_at", sortColumn(""))
	assert.Equal(t, "created_at", sortColumn("createdAt"))
	assert.Equal(t, "updated_at", sortColumn("updatedAt"))
	assert.Equal(t, "patient_name", sortColumn("patientName"))
	assert.Equal(t, "confidence_score", sortColumn("confidenceScore"))
	// anything else must not reach the SQL string
	assert.Equal(t, "created_at", sortColumn("transcript; DROP TABLE consultations"))
}

func TestNormalizePaging(t *testing.T) {
	page, size := normalizePaging(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, defaultPageSize, size)

	page, size = normalizePaging(-3, 5000)
	assert.Equal(t, 1, page)
	assert.Equal(t, maxPageSize, size)

	page, size = normalizePaging(2, 10)
	assert.Equal(t, 2, page)
	assert.Equal(t, 10, size)
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 0, pageCount(0, 10))
	assert.Equal(t, 1, pageCount(1, 10))
	assert.Equal(t, 1, pageCount(10, 10))
	assert.Equal(t, 3, pageCount(25, 10))
	assert.Equal(t, 3, pageCount(30, 10))
}

func TestValidateUpdateFields_RejectsImmutable(t *testing.T) {
	for _, field := range []string{"consultationId", "createdAt", "id", "_id"} {
		_, _, err := validateUpdateFields(map[string]interface{}{field: "x"})
		require.Error(t, err, field)

		var immutable *ImmutableFieldError
		assert.ErrorAs(t, err, &immutable)
		assert.Equal(t, field, immutable.Field)
	}
}

func TestValidateUpdateFields_RejectsUnknown(t *testing.T) {
	_, _, err := validateUpdateFields(map[string]interface{}{"favouriteColor": "blue"})
	require.Error(t, err)

	var validation *ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestValidateUpdateFields_RejectsEmpty(t *testing.T) {
	_, _, err := validateUpdateFields(map[string]interface{}{})
	assert.Error(t, err)
}

func TestValidateUpdateFields_TranscriptMustBeString(t *testing.T) {
	_, _, err := validateUpdateFields(map[string]interface{}{"transcript": 42})
	assert.Error(t, err)
}

func TestValidateUpdateFields_TranscriptMustNotBeEmpty(t *testing.T) {
	for _, transcript := range []string{"", "   ", "\n\t"} {
		_, _, err := validateUpdateFields(map[string]interface{}{"transcript": transcript})
		require.Error(t, err)

		var validation *ValidationError
		assert.ErrorAs(t, err, &validation)
		assert.Equal(t, "transcript", validation.Field)
	}
}

func TestValidateUpdateFields_BuildsAssignments(t *testing.T) {
	assignments, args, err := validateUpdateFields(map[string]interface{}{
		"transcript": "Doctor: hello",
	})
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "transcript = $1", assignments[0])
	assert.Equal(t, "Doctor: hello", args[0])
}

func TestValidateUpdateFields_MarshalsJSONBFields(t *testing.T) {
	assignments, args, err := validateUpdateFields(map[string]interface{}{
		"keyPoints": []string{"point one", "point two"},
	})
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "key_points = $1", assignments[0])
	assert.JSONEq(t, `["point one","point two"]`, string(args[0].([]byte)))
}

func TestAppendDenormalizedColumns_PatientInfo(t *testing.T) {
	fields := map[string]interface{}{
		"patientInfo": map[string]interface{}{"name": "Jane Smith", "patientId": "PAT-42"},
	}
	assignments, args := appendDenormalizedColumns(fields, []string{"patient_info = $1"}, []interface{}{[]byte(`{}`)})

	require.Len(t, assignments, 3)
	assert.Equal(t, "patient_name = $2", assignments[1])
	assert.Equal(t, "patient_ref = $3", assignments[2])
	assert.Equal(t, "Jane Smith", args[1])
	assert.Equal(t, "PAT-42", args[2])
}

func TestAppendDenormalizedColumns_ConfidenceScore(t *testing.T) {
	fields := map[string]interface{}{
		"analysisMetadata": map[string]interface{}{"confidenceScore": 0.90, "aiModel": "test-model"},
	}
	assignments, args := appendDenormalizedColumns(fields, []string{"analysis_metadata = $1"}, []interface{}{[]byte(`{}`)})

	require.Len(t, assignments, 2)
	assert.Equal(t, "confidence_score = $2", assignments[1])
	assert.Equal(t, 0.90, args[1])
}

func TestAppendDenormalizedColumns_NoSyncedFields(t *testing.T) {
	assignments, args := appendDenormalizedColumns(
		map[string]interface{}{"transcript": "Doctor: hello"},
		[]string{"transcript = $1"}, []interface{}{"Doctor: hello"})

	assert.Len(t, assignments, 1)
	assert.Len(t, args, 1)
}

func TestDailyCountsWhere(t *testing.T) {
	assert.Equal(t, " WHERE created_at >= NOW() - INTERVAL '30 days'", dailyCountsWhere(""))
	assert.Equal(t,
		" WHERE created_at >= $1 AND created_at >= NOW() - INTERVAL '30 days'",
		dailyCountsWhere(" WHERE created_at >= $1"))
}
