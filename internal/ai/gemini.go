package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"google.golang.org/genai"

	"github.com/cchalm/math-tutor/internal/conversation"
)

const geminiGenerateAction = "generateContent"

// GeminiBackend talks to the Gemini API
type GeminiBackend struct {
	client *genai.Client
}

// NewGeminiBackend creates a Gemini client authenticated with apiKey. httpClient may be nil.
func NewGeminiBackend(ctx context.Context, apiKey string, httpClient *http.Client) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, ErrNoCredential
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiBackend{client: client}, nil
}

func (g *GeminiBackend) StreamChat(ctx context.Context, req ChatRequest, onText func(fragment string)) error {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		if c := toGeminiContent(m); c != nil {
			contents = append(contents, c)
		}
	}
	if c := toGeminiContent(req.Message); c != nil {
		contents = append(contents, c)
	}

	config := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	for resp, err := range g.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
		if err != nil {
			return classify(req.Model, geminiStatus(err), fmt.Errorf("failed to stream response: %w", err))
		}
		onText(resp.Text())
	}
	return nil
}

func (g *GeminiBackend) ListModels(ctx context.Context) ([]string, error) {
	var ids []string
	page, err := g.client.Models.List(ctx, &genai.ListModelsConfig{})
	for {
		if errors.Is(err, genai.ErrPageDone) {
			break
		}
		if err != nil {
			return nil, classify("", geminiStatus(err), fmt.Errorf("failed to list models: %w", err))
		}
		for _, model := range page.Items {
			if model == nil || !slices.Contains(model.SupportedActions, geminiGenerateAction) {
				continue
			}
			ids = append(ids, strings.TrimPrefix(model.Name, "models/"))
		}
		if page.NextPageToken == "" {
			break
		}
		page, err = page.Next(ctx)
	}
	return ids, nil
}

func toGeminiContent(m Message) *genai.Content {
	var parts []*genai.Part
	if m.Text != "" {
		parts = append(parts, genai.NewPartFromText(m.Text))
	}
	if m.Image != nil && len(m.Image.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(m.Image.Data, m.Image.MIMEType))
	}
	if len(parts) == 0 {
		return nil
	}
	return genai.NewContentFromParts(parts, geminiRole(m.Role))
}

func geminiRole(role conversation.Role) genai.Role {
	if role == conversation.RoleModel {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
