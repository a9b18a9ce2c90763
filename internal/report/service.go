package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/signintech/gopdf"

	"github.com/asap007/ninisina-test/internal/consultation"
)

// Common DejaVuSans locations across the base images we deploy on.
var fontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

// Service renders stored consultations as PDF documents.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) Render(c *consultation.Consultation) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var fontErr error
	fontLoaded := false
	for _, path := range fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return nil, errors.Wrap(fontErr, "failed to load PDF font, is ttf-dejavu installed")
	}

	if err := pdf.SetFont("DejaVu", "", 20); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Consultation Report")
	pdf.Br(30)

	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return nil, err
	}
	pdf.Cell(nil, fmt.Sprintf("Consultation ID: %s", c.ConsultationID))
	pdf.Br(14)
	pdf.Cell(nil, fmt.Sprintf("Date: %s", c.CreatedAt.Format("02 Jan 2006 15:04")))
	pdf.Br(14)
	if c.PatientInfo.Name != "" {
		pdf.Cell(nil, fmt.Sprintf("Patient: %s", c.PatientInfo.Name))
		pdf.Br(14)
	}
	pdf.Cell(nil, fmt.Sprintf("Confidence score: %.2f", c.AnalysisMetadata.ConfidenceScore))
	pdf.Br(24)

	sections := []struct {
		title string
		body  string
	}{
		{"Chief Complaint", c.ClinicalSummary.ChiefComplaint},
		{"History of Present Illness", c.ClinicalSummary.HistoryOfPresentIllness},
		{"Assessment", c.ClinicalSummary.Assessment},
		{"Plan", c.ClinicalSummary.Plan},
		{"Vitals", c.ClinicalSummary.Vitals},
	}
	for _, section := range sections {
		if strings.TrimSpace(section.body) == "" {
			continue
		}
		if err := writeSection(&pdf, section.title, section.body); err != nil {
			return nil, err
		}
	}

	if len(c.KeyPoints) > 0 {
		if err := writeSection(&pdf, "Key Points", "- "+strings.Join(c.KeyPoints, "\n- ")); err != nil {
			return nil, err
		}
	}

	if len(c.MedicalInsights.RedFlags) > 0 {
		var b strings.Builder
		for _, flag := range c.MedicalInsights.RedFlags {
			b.WriteString(fmt.Sprintf("- [%s] %s: %s\n", flag.Status, flag.Flag, flag.RecommendedAction))
		}
		if err := writeSection(&pdf, "Red Flags", b.String()); err != nil {
			return nil, err
		}
	}

	if len(c.FollowUpReminders) > 0 {
		var b strings.Builder
		for _, reminder := range c.FollowUpReminders {
			b.WriteString(fmt.Sprintf("- [%s] %s (due %s)\n",
				reminder.Type, reminder.Message, reminder.DueDate.Format("02 Jan 2006")))
		}
		if err := writeSection(&pdf, "Follow-up Reminders", b.String()); err != nil {
			return nil, err
		}
	}

	pdf.SetY(280)
	if err := pdf.SetFont("DejaVu", "", 8); err != nil {
		return nil, err
	}
	pdf.Cell(nil, fmt.Sprintf("Generated by %s on %s. AI-assisted draft, review before clinical use.",
		c.AnalysisMetadata.AIModel, time.Now().Format("02 Jan 2006")))

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "write PDF")
	}
	return buf.Bytes(), nil
}

func writeSection(pdf *gopdf.GoPdf, title, body string) error {
	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return err
	}
	pdf.Cell(nil, title)
	pdf.Br(16)

	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return err
	}
	for _, paragraph := range strings.Split(strings.TrimSpace(body), "\n") {
		lines, _ := pdf.SplitText(paragraph, 500)
		for _, line := range lines {
			pdf.Cell(nil, line)
			pdf.Br(13)
		}
	}
	pdf.Br(10)
	return nil
}
