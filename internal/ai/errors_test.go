package ai

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_ByStatus(t *testing.T) {
	base := errors.New("boom")

	var rateLimit *RateLimitError
	require.ErrorAs(t, classify("m", http.StatusTooManyRequests, base), &rateLimit)
	assert.Equal(t, "m", rateLimit.Model)

	var notFound *NotFoundError
	require.ErrorAs(t, classify("m", http.StatusNotFound, base), &notFound)

	var transport *TransportError
	require.ErrorAs(t, classify("m", http.StatusInternalServerError, base), &transport)
	assert.ErrorIs(t, transport, base)

	assert.NoError(t, classify("m", 0, nil))
}

func TestClassify_ByMessageWhenStatusUnknown(t *testing.T) {
	var rateLimit *RateLimitError
	assert.ErrorAs(t, classify("m", 0, errors.New("googleapi: Error 429: Resource exhausted")), &rateLimit)

	var notFound *NotFoundError
	assert.ErrorAs(t, classify("m", 0, errors.New("Error 404: models/foo is not found")), &notFound)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
	assert.Contains(t, Describe(fmt.Errorf("wrapped: %w", ErrNoCredential)), "APIキー")
	assert.Contains(t, Describe(&RateLimitError{Model: "m", Err: errors.New("x")}), "429")
	assert.Contains(t, Describe(&NotFoundError{Model: "gemini-9", Err: errors.New("x")}), "gemini-9")
	assert.Contains(t, Describe(&TransportError{Err: errors.New("socket closed")}), "socket closed")
	assert.Contains(t, Describe(&ModelUnavailableError{Model: "auto", Err: errors.New("no list")}), "no list")
	assert.Contains(t, Describe(errors.New("odd")), "odd")
}

func TestSimilarProblemInstruction_ContainsMarker(t *testing.T) {
	instruction, err := SimilarProblemInstruction()
	require.NoError(t, err)
	assert.Contains(t, instruction, "|||SPLIT|||")
	assert.NotEmpty(t, SystemInstruction())
}
