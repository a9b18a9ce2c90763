package consultation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Processor runs the consultation pipeline. Declared here to decouple the
// HTTP layer from the pipeline implementation.
type Processor interface {
	Process(ctx context.Context, transcript string, patient PatientInfo, durationLabel string) (*Consultation, string, error)
}

// Transcriber converts uploaded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// ReportRenderer renders a stored consultation as a PDF document.
type ReportRenderer interface {
	Render(c *Consultation) ([]byte, error)
}

type Handler struct {
	store       Store
	processor   Processor
	transcriber Transcriber
	reports     ReportRenderer
}

func NewHandler(store Store, processor Processor, transcriber Transcriber, reports ReportRenderer) *Handler {
	return &Handler{store: store, processor: processor, transcriber: transcriber, reports: reports}
}

type processRequest struct {
	Transcript           string      `json:"transcript"`
	PatientInfo          PatientInfo `json:"patientInfo"`
	ConsultationDuration string      `json:"consultationDuration"`
}

func (h *Handler) ProcessConsultation(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, warning, err := h.processor.Process(r.Context(), req.Transcript, req.PatientInfo, req.ConsultationDuration)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			writeError(w, http.StatusBadRequest, validationErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	response := map[string]interface{}{"consultation": record}
	if warning != "" {
		response["warning"] = warning
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) TranscribeAudio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(25 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio file")
		return
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read audio file")
		return
	}

	text, err := h.transcriber.Transcribe(r.Context(), buf.Bytes(), header.Filename)
	if err != nil {
		writeError(w, http.StatusBadGateway, "transcription failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcript": text})
}

func (h *Handler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) ListConsultations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	opts := ListOptions{
		Filter: ListFilter{
			PatientName: query.Get("patientName"),
			PatientID:   query.Get("patientId"),
		},
		SortBy:     query.Get("sortBy"),
		Descending: query.Get("order") != "asc",
	}
	opts.Page, _ = strconv.Atoi(query.Get("page"))
	opts.PageSize, _ = strconv.Atoi(query.Get("pageSize"))

	var parseErr error
	opts.Filter.StartDate, parseErr = parseDate(query.Get("startDate"))
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "invalid startDate, use YYYY-MM-DD")
		return
	}
	opts.Filter.EndDate, parseErr = parseEndDate(query.Get("endDate"))
	if parseErr != nil {
		writeError(w, http.StatusBadRequest, "invalid endDate, use YYYY-MM-DD")
		return
	}

	result, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) UpdateConsultation(w http.ResponseWriter, r *http.Request) {
	var fields map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := h.store.Update(r.Context(), chi.URLParam(r, "id"), fields)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) DeleteConsultation(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) AppendPrescription(w http.ResponseWriter, r *http.Request) {
	var p Prescription
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.PrescriptionID == "" {
		p.PrescriptionID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Medications == nil {
		p.Medications = []Medication{}
	}

	if err := h.store.AppendPrescription(r.Context(), chi.URLParam(r, "id"), p); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"prescription": p})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	start, err := parseDate(query.Get("startDate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid startDate, use YYYY-MM-DD")
		return
	}
	end, err := parseEndDate(query.Get("endDate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endDate, use YYYY-MM-DD")
		return
	}

	stats, err := h.store.AggregateStats(r.Context(), start, end)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	pdf, err := h.reports.Render(record)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "report generation failed")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="consultation_%s.pdf"`, id))
	w.Write(pdf)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	var notFound *NotFoundError
	var duplicate *DuplicateIDError
	var validation *ValidationError
	var immutable *ImmutableFieldError

	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &duplicate):
		writeError(w, http.StatusConflict, duplicate.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &immutable):
		writeError(w, http.StatusBadRequest, immutable.Error())
	default:
		log.Printf("store error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseEndDate makes the range end inclusive by extending it to the last
// instant of the named day.
func parseEndDate(value string) (*time.Time, error) {
	t, err := parseDate(value)
	if err != nil || t == nil {
		return t, err
	}
	end := t.Add(24*time.Hour - time.Nanosecond)
	return &end, nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/transcribe", h.TranscribeAudio)
	r.Route("/consultations", func(r chi.Router) {
		r.Post("/process", h.ProcessConsultation)
		r.Get("/", h.ListConsultations)
		r.Get("/stats", h.GetStats)
		r.Get("/{id}", h.GetConsultation)
		r.Patch("/{id}", h.UpdateConsultation)
		r.Delete("/{id}", h.DeleteConsultation)
		r.Post("/{id}/prescriptions", h.AppendPrescription)
		r.Get("/{id}/report", h.DownloadReport)
	})
}
