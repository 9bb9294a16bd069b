package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNoCredential means no API key is available, so no model can be contacted
	ErrNoCredential = errors.New("no API key configured")
	// ErrNoModel means an exchange was attempted without a model handle
	ErrNoModel = errors.New("no model handle available")
	// ErrNotAwaitingResponse means the conversation does not end with an unanswered user turn
	ErrNotAwaitingResponse = errors.New("last turn is not a user turn")
	// ErrNoModels means model selection had nothing to choose from
	ErrNoModels = errors.New("no candidate models")
)

// ModelUnavailableError reports that a model handle could not be constructed
type ModelUnavailableError struct {
	Model string
	Err   error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %q unavailable: %v", e.Model, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// RateLimitError reports quota exhaustion on the remote API
type RateLimitError struct {
	Model string
	Err   error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by model %q: %v", e.Model, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// NotFoundError reports that the remote API rejected the model identifier
type NotFoundError struct {
	Model string
	Err   error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("model %q not found: %v", e.Model, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// TransportError is any other failure while talking to the remote API
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// classify maps a backend failure to the error taxonomy. status is the HTTP status reported by the backend's SDK, or
// zero if the SDK did not expose one, in which case the error text is inspected.
func classify(model string, status int, err error) error {
	if err == nil {
		return nil
	}
	if status == 0 {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "429"):
			status = http.StatusTooManyRequests
		case strings.Contains(msg, "404"):
			status = http.StatusNotFound
		}
	}
	switch status {
	case http.StatusTooManyRequests:
		return &RateLimitError{Model: model, Err: err}
	case http.StatusNotFound:
		return &NotFoundError{Model: model, Err: err}
	default:
		return &TransportError{Err: err}
	}
}

// Describe returns the message shown to the student for an exchange failure
func Describe(err error) string {
	var (
		unavailable *ModelUnavailableError
		rateLimit   *RateLimitError
		notFound    *NotFoundError
		transport   *TransportError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredential):
		return "左のサイドバーにAPIキーを入れてください"
	case errors.As(err, &unavailable):
		return fmt.Sprintf("モデル設定エラー: %v", unavailable.Err)
	case errors.As(err, &rateLimit):
		return "⚠️ 使いすぎです（429エラー）。少し時間を置いてから試してください。"
	case errors.As(err, &notFound):
		return fmt.Sprintf("モデル「%s」が見つかりません（404エラー）。設定を確認してください。", notFound.Model)
	case errors.As(err, &transport):
		return fmt.Sprintf("エラーが発生しました: %v", transport.Err)
	default:
		return fmt.Sprintf("エラーが発生しました: %v", err)
	}
}
