package ai

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// BackendFactory creates a backend authenticated with apiKey
type BackendFactory func(ctx context.Context, apiKey string) (Backend, error)

// Connector turns an API key into a ready model handle and the driver that talks to it
type Connector struct {
	newBackend BackendFactory
	config     HandleConfig
	tracer     trace.Tracer
}

func NewConnector(newBackend BackendFactory, config HandleConfig, tracer trace.Tracer) *Connector {
	return &Connector{
		newBackend: newBackend,
		config:     config,
		tracer:     tracer,
	}
}

// Connect builds a backend for apiKey, resolves the model and returns a driver bound to the backend
func (c *Connector) Connect(ctx context.Context, apiKey string) (*ModelHandle, *Driver, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, nil, ErrNoCredential
	}

	backend, err := c.newBackend(ctx, apiKey)
	if err != nil {
		return nil, nil, &ModelUnavailableError{Model: c.config.Model, Err: err}
	}

	handle, err := NewModelHandle(ctx, backend, c.config, c.tracer)
	if err != nil {
		return nil, nil, err
	}
	return handle, NewDriver(backend, c.tracer), nil
}
