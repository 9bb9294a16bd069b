package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/go-pdf/fpdf"
)

const (
	pdfFontFamily     = "sheetfont"
	pdfFallbackFamily = "Helvetica"
)

// PDFExporter renders one A4 page per section
type PDFExporter struct {
	fontPath string
}

// NewPDFExporter creates a PDF exporter that embeds the TTF font at fontPath when that file exists
func NewPDFExporter(fontPath string) *PDFExporter {
	return &PDFExporter{fontPath: fontPath}
}

// FontWarning returns a message to display when the configured font is missing, or "" if it is present
func (e *PDFExporter) FontWarning() string {
	if e.fontAvailable() {
		return ""
	}
	return fmt.Sprintf("フォントファイル %q が見つかりません。標準フォントで出力するため日本語が正しく表示されない可能性があります。", e.fontPath)
}

func (e *PDFExporter) fontAvailable() bool {
	if e.fontPath == "" {
		return false
	}
	_, err := os.Stat(e.fontPath)
	return err == nil
}

func (e *PDFExporter) Export(s Sheet) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)

	family := pdfFallbackFamily
	translate := pdf.UnicodeTranslatorFromDescriptor("")
	if e.fontAvailable() {
		pdf.AddUTF8Font(pdfFontFamily, "", e.fontPath)
		family = pdfFontFamily
		translate = func(s string) string { return s }
	} else {
		log.Printf("Warning: PDF font %q not found, falling back to %s", e.fontPath, pdfFallbackFamily)
	}

	for _, sec := range s.sections() {
		pdf.AddPage()
		pdf.SetFont(family, "", 18)
		pdf.CellFormat(0, 12, translate(sec.Title), "B", 1, "L", false, 0, "")
		pdf.Ln(6)
		pdf.SetFont(family, "", 12)
		pdf.MultiCell(0, 7, translate(sec.Body), "", "L", false)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	if buf.Len() == 0 {
		return nil, errors.New("pdf output is empty")
	}
	return buf.Bytes(), nil
}

func (e *PDFExporter) FileExtension() string { return ".pdf" }

func (e *PDFExporter) MimeType() string { return "application/pdf" }
