package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/cchalm/math-tutor/internal/conversation"
)

// AnthropicBackend talks to the Anthropic Messages API
type AnthropicBackend struct {
	client          anthropic.Client
	maxOutputTokens int64
}

func NewAnthropicBackend(client anthropic.Client, maxOutputTokens int64) AnthropicBackend {
	return AnthropicBackend{
		client:          client,
		maxOutputTokens: maxOutputTokens,
	}
}

func (ab AnthropicBackend) StreamChat(ctx context.Context, req ChatRequest, onText func(fragment string)) error {
	messageParams := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, m := range req.History {
		if p, ok := toAnthropicMessage(m); ok {
			messageParams = append(messageParams, p)
		}
	}
	if p, ok := toAnthropicMessage(req.Message); ok {
		messageParams = append(messageParams, p)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: ab.maxOutputTokens,
		Messages:  messageParams,
	}
	if req.SystemInstruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemInstruction}}
	}

	stream := ab.client.Messages.NewStreaming(ctx, params)
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
				onText(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return classify(req.Model, anthropicStatus(err), fmt.Errorf("failed to stream response: %w", err))
	}
	return nil
}

func (ab AnthropicBackend) ListModels(ctx context.Context) ([]string, error) {
	var ids []string
	pager := ab.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
	for pager.Next() {
		ids = append(ids, pager.Current().ID)
	}
	if err := pager.Err(); err != nil {
		return nil, classify("", anthropicStatus(err), fmt.Errorf("failed to list models: %w", err))
	}
	return ids, nil
}

func toAnthropicMessage(m Message) (anthropic.MessageParam, bool) {
	var blocks []anthropic.ContentBlockParamUnion
	if m.Image != nil && len(m.Image.Data) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64(m.Image.MIMEType, base64.StdEncoding.EncodeToString(m.Image.Data)))
	}
	if m.Text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Text))
	}
	if len(blocks) == 0 {
		return anthropic.MessageParam{}, false
	}
	if m.Role == conversation.RoleModel {
		return anthropic.NewAssistantMessage(blocks...), true
	}
	return anthropic.NewUserMessage(blocks...), true
}

func anthropicStatus(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
