package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const qrSizeMM = 32

// SavePDF renders the given capture report into a PDF document. The first
// page carries a QR code of the capture's SHA-256 when one is known.
func SavePDF(rep CaptureReport, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Capture Report", false)
	pdf.SetAuthor("pktctl", false)
	pdf.SetCreator("pktctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Capture Report")
	if err := addCaptureQR(pdf, rep); err != nil {
		return err
	}
	addSummarySection(pdf, rep)
	addStackSection(pdf, rep.Stacks)
	addFindingsSection(pdf, rep.Findings)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

// addCaptureQR places the capture QR in the top right corner. Reports
// without a digest get none.
func addCaptureQR(pdf *gofpdf.Fpdf, rep CaptureReport) error {
	if digestHex(rep.Sha256) == "" {
		return nil
	}
	png, err := CaptureQR(rep, 256)
	if err != nil {
		return err
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("capture", opts, bytes.NewReader(png))
	w, _ := pdf.GetPageSize()
	_, _, right, _ := pdf.GetMargins()
	pdf.ImageOptions("capture", w-right-qrSizeMM, 15, qrSizeMM, qrSizeMM, false, opts, 0, "")
	return nil
}

func addSummarySection(pdf *gofpdf.Fpdf, rep CaptureReport) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "File", value: emptyFallback(rep.File, "-")},
		{label: "SHA-256", value: emptyFallback(rep.Sha256, "-")},
		{label: "Size", value: strconv.FormatInt(rep.Size, 10) + " bytes"},
		{label: "Link Type", value: emptyFallback(rep.Link, "-")},
		{label: "Packets", value: strconv.Itoa(rep.Summary.Packets)},
		{label: "Truncated", value: strconv.Itoa(rep.Summary.Truncated)},
		{label: "Anomalies", value: strconv.Itoa(rep.Summary.Anomalies)},
		{label: "Bad Checksums", value: strconv.Itoa(rep.Summary.BadChecksums)},
		{label: "Overall", value: passLabel(rep.Summary.Pass)},
	}
	if !rep.CreatedAt.IsZero() {
		items = append(items, struct {
			label string
			value string
		}{label: "Created", value: rep.CreatedAt.Format(time.RFC3339)})
	}
	for _, item := range items {
		pdf.CellFormat(40, 6, item.label, "", 0, "L", false, 0, "")
		pdf.MultiCell(0, 6, item.value, "", "L", false)
	}
	pdf.Ln(4)
}

func addStackSection(pdf *gofpdf.Fpdf, rows []StackCount) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Protocol Stacks")
	pdf.Ln(9)

	headers := []string{"Stack", "Packets", "Bytes"}
	widths := []float64{110, 35, 35}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	lineHeight := 5.0
	for _, row := range rows {
		values := []string{
			row.Stack,
			strconv.Itoa(row.Packets),
			strconv.FormatInt(row.Bytes, 10),
		}
		renderTableRow(pdf, widths, values, lineHeight)
	}
	pdf.Ln(4)
}

func addFindingsSection(pdf *gofpdf.Fpdf, findings []Finding) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Findings")
	pdf.Ln(9)

	if len(findings) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No findings recorded.", "", "L", false)
		return
	}

	for i, f := range findings {
		pdf.SetFont("Helvetica", "B", 10)
		header := fmt.Sprintf("%d. Packet %d: %s", i+1, f.Packet, f.Kind)
		if f.Layer != "" {
			header += " (" + f.Layer + ")"
		}
		pdf.MultiCell(0, 5, header, "", "L", false)

		if msg := strings.TrimSpace(f.Message); msg != "" {
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, msg, "", "L", false)
		}

		meta := findingMetadata(f)
		if meta != "" {
			pdf.SetFont("Courier", "", 8)
			pdf.MultiCell(0, 4, meta, "", "L", false)
		}

		pdf.Ln(2)
	}
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		cellText := strings.Join(lines, "\n")
		pdf.MultiCell(widths[i], lineHeight, cellText, "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

// findingMetadata renders the timestamp and chain summary under a finding.
// The core PDF fonts are Latin-1, so the separator stays ASCII.
func findingMetadata(f Finding) string {
	parts := make([]string, 0, 2)
	if !f.Ts.IsZero() {
		parts = append(parts, f.Ts.UTC().Format(time.RFC3339Nano))
	}
	if f.Summary != "" {
		parts = append(parts, f.Summary)
	}
	return strings.Join(parts, " | ")
}
