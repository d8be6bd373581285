package chat

import (
	"context"
	"errors"
	"sync"

	"civicease-backend/internal/library"
	"civicease-backend/internal/llm"
	"civicease-backend/internal/shared/telemetry"
)

// ErrBusy is returned when a send is attempted while another is in flight.
var ErrBusy = errors.New("a chat request is already in flight")

// errorNotice is appended in place of a model turn when the provider fails,
// so the conversation log stays consistent and the user can just ask again.
const errorNotice = "Sorry, I encountered an error answering that."

// Manager opens chat sessions bound to a document image.
type Manager struct {
	LLM llm.Client
}

// NewManager constructs a Manager.
func NewManager(client llm.Client) *Manager {
	return &Manager{LLM: client}
}

// Session is one live conversation thread grounded on a single document.
// History is strictly append-only and at most one send runs at a time.
type Session struct {
	mu        sync.Mutex
	inFlight  bool
	llm       llm.Client
	imageData []byte
	mimeType  string
	history   []library.ChatMessage
}

// Open establishes a session over the document image and any prior history.
// The image is re-attached to the logical first turn when the conversation
// resumes, so grounding survives across process restarts.
func (m *Manager) Open(imageData []byte, mimeType string, history []library.ChatMessage) *Session {
	copied := make([]library.ChatMessage, len(history))
	copy(copied, history)
	return &Session{
		llm:       m.LLM,
		imageData: imageData,
		mimeType:  mimeType,
		history:   copied,
	}
}

// History returns a copy of the current conversation.
func (s *Session) History() []library.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]library.ChatMessage, len(s.history))
	copy(out, s.history)
	return out
}

// Send appends the user message, invokes onUpdate with the provisional
// history, requests the model turn, appends either the model reply or an
// error notice, and invokes onUpdate again. Every completed call grows the
// history by exactly two messages. A call while another send is in flight
// fails with ErrBusy and leaves the history untouched.
func (s *Session) Send(ctx context.Context, text string, onUpdate func([]library.ChatMessage)) error {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return ErrBusy
	}
	s.inFlight = true

	prior := make([]library.ChatMessage, len(s.history))
	copy(prior, s.history)

	s.history = append(s.history, library.ChatMessage{Role: library.RoleUser, Text: text})
	provisional := make([]library.ChatMessage, len(s.history))
	copy(provisional, s.history)
	s.mu.Unlock()

	if onUpdate != nil {
		onUpdate(provisional)
	}

	reply, err := s.llm.Chat(ctx, s.imageData, s.mimeType, prior, text)
	if err != nil {
		telemetry.Warn("chat.turn_failed", map[string]any{"error": err.Error()})
		reply = errorNotice
	}

	s.mu.Lock()
	s.history = append(s.history, library.ChatMessage{Role: library.RoleModel, Text: reply})
	final := make([]library.ChatMessage, len(s.history))
	copy(final, s.history)
	s.inFlight = false
	s.mu.Unlock()

	if onUpdate != nil {
		onUpdate(final)
	}
	return nil
}
