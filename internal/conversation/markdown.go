package conversation

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"
)

//go:embed transcript.tmpl
var transcriptTemplate string

// transcriptData is the flattened view of a conversation used by the transcript template
type transcriptData struct {
	CreatedAt string
	Messages  []transcriptMessage
}

type transcriptMessage struct {
	Role     Role
	Text     string
	HasImage bool
}

// ToMarkdown renders the conversation as a markdown transcript
func (c *Conversation) ToMarkdown() (string, error) {
	data := transcriptData{
		CreatedAt: time.Now().Format("2006-01-02 15:04:05 MST"),
	}
	for _, turn := range c.turns {
		data.Messages = append(data.Messages, transcriptMessage{
			Role:     turn.Role,
			Text:     turn.Content.Text,
			HasImage: turn.Content.Image != nil,
		})
	}

	funcMap := template.FuncMap{
		"roleLabel": func(role Role) string {
			switch role {
			case RoleUser:
				return "生徒"
			case RoleModel:
				return "先生"
			default:
				return string(role)
			}
		},
		"indent": func(prefix string, text string) string {
			prefixed := strings.Builder{}
			for line := range strings.Lines(text) {
				prefixed.WriteString(prefix)
				prefixed.WriteString(line)
			}
			return prefixed.String()
		},
	}

	tmpl, err := template.New("transcript").Funcs(funcMap).Parse(transcriptTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse transcript template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute transcript template: %w", err)
	}
	return buf.String(), nil
}
