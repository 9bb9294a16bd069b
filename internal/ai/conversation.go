package ai

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/cchalm/math-tutor/internal/conversation"
)

// Driver answers the newest user turn of a conversation with exactly one model turn
type Driver struct {
	backend Backend
	tracer  trace.Tracer
}

// NewDriver creates a driver. tracer may be nil.
func NewDriver(backend Backend, tracer trace.Tracer) *Driver {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Driver{
		backend: backend,
		tracer:  tracer,
	}
}

// BuildRequest serializes the conversation: every turn except the newest becomes history, and the newest becomes the
// live message
func BuildRequest(handle *ModelHandle, conv *conversation.Conversation) ChatRequest {
	history := conv.History()
	req := ChatRequest{
		Model:             handle.Name,
		SystemInstruction: handle.SystemInstruction,
		History:           make([]Message, 0, len(history)),
	}
	for _, turn := range history {
		req.History = append(req.History, toMessage(turn))
	}
	if last, ok := conv.Last(); ok {
		req.Message = toMessage(last)
	}
	return req
}

// Exchange sends the newest user turn and appends the assembled reply as a model turn. onPartial, if not nil, is
// called with the growing response after every fragment.
//
// On failure nothing is appended and the returned error is one of the types in errors.go.
func (d *Driver) Exchange(
	ctx context.Context,
	handle *ModelHandle,
	conv *conversation.Conversation,
	onPartial func(prefix string),
) (conversation.Turn, error) {
	if handle == nil {
		return conversation.Turn{}, ErrNoModel
	}
	if conv.LastRole() != conversation.RoleUser {
		return conversation.Turn{}, ErrNotAwaitingResponse
	}

	ctx, span := d.tracer.Start(ctx, "ai.Exchange", trace.WithAttributes(
		attribute.String("model.name", handle.Name),
		attribute.Int("conversation.turns", conv.Len()),
	))
	defer span.End()

	req := BuildRequest(handle, conv)
	start := time.Now()

	var response strings.Builder
	err := d.backend.StreamChat(ctx, req, func(fragment string) {
		if fragment == "" {
			return
		}
		response.WriteString(fragment)
		if onPartial != nil {
			onPartial(response.String())
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exchange failed")
		log.Printf("Exchange with %s failed after %s: %v", handle.Name, time.Since(start), err)
		return conversation.Turn{}, ensureClassified(handle.Name, err)
	}

	turn := conversation.NewModelTurn(response.String())
	conv.Append(turn)

	span.SetAttributes(attribute.Int("response.length", response.Len()))
	log.Printf("Exchange with %s completed in %s - history: %d turns, response: %d bytes",
		handle.Name, time.Since(start), len(req.History), response.Len())

	return turn, nil
}

// ensureClassified guarantees the error belongs to the taxonomy even if a backend returned a raw error
func ensureClassified(model string, err error) error {
	var (
		rateLimit *RateLimitError
		notFound  *NotFoundError
		transport *TransportError
	)
	if errors.As(err, &rateLimit) || errors.As(err, &notFound) || errors.As(err, &transport) {
		return err
	}
	return classify(model, 0, err)
}
