package web

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"log"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// mathPattern matches TeX spans that MathJax typesets in the browser. They are kept away from the markdown parser,
// which would otherwise eat backslashes and treat underscores as emphasis.
var mathPattern = regexp.MustCompile(`(?s)\$\$.+?\$\$|\\\[.+?\\\]|\\\(.+?\\\)|\$[^$\n]+?\$`)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// renderMarkdown converts a reply, or a prefix of one, to HTML. Raw HTML in the input is not passed through.
func renderMarkdown(text string) template.HTML {
	var spans []string
	protected := mathPattern.ReplaceAllStringFunc(text, func(span string) string {
		spans = append(spans, span)
		return mathPlaceholder(len(spans) - 1)
	})

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(protected), &buf); err != nil {
		log.Printf("Markdown conversion error: %v", err)
		return template.HTML("<pre>" + html.EscapeString(text) + "</pre>")
	}

	out := buf.String()
	for i, span := range spans {
		out = strings.Replace(out, mathPlaceholder(i), html.EscapeString(span), 1)
	}
	return template.HTML(out)
}

func mathPlaceholder(i int) string {
	return fmt.Sprintf("MTMATHSPAN%dX", i)
}
