package llm

import (
	"context"
	"errors"

	"civicease-backend/internal/library"
)

// Client abstracts the model provider behind two operations: a one-shot
// document analysis and a grounded chat turn. Neither is assumed idempotent;
// callers must never retry silently.
type Client interface {
	// Analyze reads a document image and returns a fully populated
	// AnalysisResult, or an error. Partial results are never returned.
	Analyze(ctx context.Context, imageData []byte, mimeType string) (library.AnalysisResult, error)

	// Chat answers a follow-up question grounded on the document image and the
	// prior conversation, returning the next model turn as text.
	Chat(ctx context.Context, imageData []byte, mimeType string, history []library.ChatMessage, message string) (string, error)
}

var (
	// ErrCredentials indicates a missing or rejected API key.
	ErrCredentials = errors.New("model provider credentials missing or rejected")
	// ErrMalformedOutput indicates the provider responded but the payload did
	// not validate against the expected shape.
	ErrMalformedOutput = errors.New("malformed model output")
	// ErrNotConfigured is returned by the placeholder client.
	ErrNotConfigured = errors.New("model provider not configured")
)

// PlaceholderClient is used when no provider is configured; every call fails
// with ErrNotConfigured so the failure surfaces as a credential problem.
type PlaceholderClient struct{}

func (PlaceholderClient) Analyze(ctx context.Context, imageData []byte, mimeType string) (library.AnalysisResult, error) {
	_ = ctx
	_ = imageData
	_ = mimeType
	return library.AnalysisResult{}, ErrNotConfigured
}

func (PlaceholderClient) Chat(ctx context.Context, imageData []byte, mimeType string, history []library.ChatMessage, message string) (string, error) {
	_ = ctx
	_ = imageData
	_ = mimeType
	_ = history
	_ = message
	return "", ErrNotConfigured
}
