package ai

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/cchalm/math-tutor/internal/sheet"
)

//go:embed system_instruction.md
var systemInstruction string

//go:embed similar_problem.tmpl
var similarProblemTemplate string

// SystemInstruction returns the tutor persona sent with every request
func SystemInstruction() string {
	return strings.TrimSpace(systemInstruction)
}

// SimilarProblemInstruction returns the canned request for a practice problem in the problem/answer shape that
// sheet.Parse understands
func SimilarProblemInstruction() (string, error) {
	tmpl, err := template.New("similar").Parse(similarProblemTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse similar problem template: %w", err)
	}

	data := struct{ Marker string }{Marker: sheet.Marker}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute similar problem template: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
