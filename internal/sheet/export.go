package sheet

import (
	"fmt"
	"strings"
)

// Exporter renders a sheet into a downloadable document
type Exporter interface {
	// Export renders the sheet
	Export(s Sheet) ([]byte, error)
	// FileExtension returns the extension including the dot, e.g. ".pdf"
	FileExtension() string
	// MimeType returns the Content-Type of the rendered document
	MimeType() string
}

// Format names accepted by ExporterFor
const (
	FormatText = "txt"
	FormatPDF  = "pdf"
	FormatHTML = "html"
)

// Formats lists every supported format in display order
var Formats = []string{FormatText, FormatPDF, FormatHTML}

// Options configures the exporters
type Options struct {
	// FontPath is a TTF file used by the PDF exporter. A missing file falls back to a core font.
	FontPath string
	// RawHTML disables escaping of the reply text in the HTML exporter
	RawHTML bool
	// MathJaxURL is the script referenced by HTML exports
	MathJaxURL string
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		FontPath:   "ipaexg.ttf",
		MathJaxURL: "https://cdn.jsdelivr.net/npm/mathjax@3/es5/tex-mml-chtml.js",
	}
}

// ExporterFor returns the exporter for a format name
func ExporterFor(format string, opts Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case FormatText:
		return TextExporter{}, nil
	case FormatPDF:
		return NewPDFExporter(opts.FontPath), nil
	case FormatHTML:
		return NewHTMLExporter(opts.MathJaxURL, !opts.RawHTML), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// FileName returns the download name for a sheet in the given exporter's format
func FileName(e Exporter) string {
	return "practice_sheet" + e.FileExtension()
}
