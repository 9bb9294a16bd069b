package sheet

import (
	"bytes"
	_ "embed"
	"fmt"
	"html"
	"html/template"
	"strings"
)

//go:embed sheet.html.tmpl
var htmlTemplateText string

var htmlTemplate = template.Must(template.New("sheet").Parse(htmlTemplateText))

// HTMLExporter renders a standalone HTML page that typesets math with MathJax in the browser
type HTMLExporter struct {
	mathJaxURL string
	escape     bool
}

// NewHTMLExporter creates an HTML exporter. When escape is false the reply text is emitted as markup.
func NewHTMLExporter(mathJaxURL string, escape bool) *HTMLExporter {
	return &HTMLExporter{
		mathJaxURL: mathJaxURL,
		escape:     escape,
	}
}

type htmlSection struct {
	Title string
	Body  template.HTML
}

func (e *HTMLExporter) Export(s Sheet) ([]byte, error) {
	data := struct {
		MathJaxURL string
		Sections   []htmlSection
	}{
		MathJaxURL: e.mathJaxURL,
	}
	for _, sec := range s.sections() {
		data.Sections = append(data.Sections, htmlSection{
			Title: sec.Title,
			Body:  e.body(sec.Body),
		})
	}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute sheet template: %w", err)
	}
	return buf.Bytes(), nil
}

// body converts line breaks to <br> and, unless disabled, escapes markup characters
func (e *HTMLExporter) body(text string) template.HTML {
	if e.escape {
		text = html.EscapeString(text)
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return template.HTML(strings.ReplaceAll(text, "\n", "<br>\n"))
}

func (e *HTMLExporter) FileExtension() string { return ".html" }

func (e *HTMLExporter) MimeType() string { return "text/html; charset=utf-8" }
