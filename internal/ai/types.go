// Package ai drives exchanges between a tutoring conversation and a hosted chat model.
package ai

import (
	"context"

	"github.com/cchalm/math-tutor/internal/conversation"
)

// Message is a single serialized turn as handed to a chat backend
type Message struct {
	Role  conversation.Role
	Text  string
	Image *conversation.Image // May be nil
}

// ChatRequest is everything a backend needs to produce one streamed reply
type ChatRequest struct {
	Model             string
	SystemInstruction string
	History           []Message // Every turn before the live message, oldest first
	Message           Message   // The live message
}

// Backend is a hosted chat API
type Backend interface {
	// StreamChat sends the request and calls onText with each text fragment in arrival order. Errors are classified
	// into the types declared in errors.go.
	StreamChat(ctx context.Context, req ChatRequest, onText func(fragment string)) error
	// ListModels returns the identifiers of models that can generate content
	ListModels(ctx context.Context) ([]string, error)
}

func toMessage(turn conversation.Turn) Message {
	return Message{
		Role:  turn.Role,
		Text:  turn.Content.Text,
		Image: turn.Content.Image,
	}
}
