package sheet

import "strings"

// TextExporter renders a sheet as UTF-8 plain text
type TextExporter struct{}

func (TextExporter) Export(s Sheet) ([]byte, error) {
	var sb strings.Builder
	for i, sec := range s.sections() {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("【" + sec.Title + "】\n")
		sb.WriteString(sec.Body)
		sb.WriteString("\n")
	}
	return []byte(sb.String()), nil
}

func (TextExporter) FileExtension() string { return ".txt" }

func (TextExporter) MimeType() string { return "text/plain; charset=utf-8" }
