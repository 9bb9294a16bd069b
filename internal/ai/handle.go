package ai

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ModelHandle is the selected remote model plus the persona it is instructed with. It does not change once built.
type ModelHandle struct {
	Name              string
	SystemInstruction string
}

// ModelLister lists remote models
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// HandleConfig describes how to build a ModelHandle
type HandleConfig struct {
	Model             string // A fixed identifier, or AutoModel
	Selection         SelectionOptions
	SystemInstruction string
}

// NewModelHandle builds a handle. With a fixed identifier no remote call is made; with AutoModel the remote list is
// fetched and filtered with SelectModel.
func NewModelHandle(ctx context.Context, lister ModelLister, cfg HandleConfig, tracer trace.Tracer) (*ModelHandle, error) {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	ctx, span := tracer.Start(ctx, "ai.NewModelHandle", trace.WithAttributes(attribute.String("model.config", cfg.Model)))
	defer span.End()

	name, err := resolveModel(ctx, lister, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model selection failed")
		return nil, &ModelUnavailableError{Model: cfg.Model, Err: err}
	}
	span.SetAttributes(attribute.String("model.name", name))

	log.Printf("Using model %s", name)
	return &ModelHandle{
		Name:              name,
		SystemInstruction: cfg.SystemInstruction,
	}, nil
}

func resolveModel(ctx context.Context, lister ModelLister, cfg HandleConfig) (string, error) {
	switch cfg.Model {
	case "":
		return "", errors.New("no model identifier configured")
	case AutoModel:
		if lister == nil {
			return "", errors.New("automatic selection requires a model lister")
		}
		ids, err := lister.ListModels(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list models: %w", err)
		}
		return SelectModel(ids, cfg.Selection)
	default:
		return cfg.Model, nil
	}
}
