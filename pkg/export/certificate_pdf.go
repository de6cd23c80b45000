package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateData carries everything the renderer needs for one certificate.
type CertificateData struct {
	StudentName  string
	CourseTitle  string
	SerialNumber string
	Title        string
	Subtitle     string
	SignedBy     string
	IssuedAt     time.Time
}

// CertificatePDF renders completion certificates as landscape A4 PDFs.
type CertificatePDF struct{}

// NewCertificatePDF constructs a certificate renderer.
func NewCertificatePDF() *CertificatePDF {
	return &CertificatePDF{}
}

// Render produces the PDF bytes for a single certificate.
func (e *CertificatePDF) Render(data CertificateData) ([]byte, error) {
	if data.StudentName == "" {
		return nil, fmt.Errorf("certificate requires a student name")
	}
	if data.CourseTitle == "" {
		return nil, fmt.Errorf("certificate requires a course title")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 25, 20)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	pdf.SetLineWidth(1.2)
	pdf.Rect(10, 10, pageW-20, 190, "D")

	title := data.Title
	if title == "" {
		title = "Certificate of Completion"
	}
	pdf.SetFont("Times", "B", 30)
	pdf.CellFormat(0, 20, strings.ToUpper(title), "", 1, "C", false, 0, "")

	if data.Subtitle != "" {
		pdf.SetFont("Times", "I", 14)
		pdf.CellFormat(0, 10, data.Subtitle, "", 1, "C", false, 0, "")
	}
	pdf.Ln(8)

	pdf.SetFont("Times", "", 14)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")
	pdf.SetFont("Times", "B", 24)
	pdf.CellFormat(0, 14, data.StudentName, "", 1, "C", false, 0, "")
	pdf.SetFont("Times", "", 14)
	pdf.CellFormat(0, 8, "has successfully completed the course", "", 1, "C", false, 0, "")
	pdf.SetFont("Times", "B", 18)
	pdf.CellFormat(0, 12, data.CourseTitle, "", 1, "C", false, 0, "")
	pdf.Ln(10)

	issued := data.IssuedAt
	if issued.IsZero() {
		issued = time.Now().UTC()
	}
	pdf.SetFont("Times", "", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("Issued on %s", issued.Format("2 January 2006")), "", 1, "C", false, 0, "")
	if data.SerialNumber != "" {
		pdf.SetFont("Courier", "", 9)
		pdf.CellFormat(0, 6, fmt.Sprintf("Serial: %s", data.SerialNumber), "", 1, "C", false, 0, "")
	}

	if data.SignedBy != "" {
		pdf.Ln(14)
		pdf.SetFont("Times", "I", 12)
		pdf.CellFormat(0, 6, data.SignedBy, "", 1, "C", false, 0, "")
		pdf.SetFont("Times", "", 10)
		pdf.CellFormat(0, 5, "Instructor", "", 1, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}
