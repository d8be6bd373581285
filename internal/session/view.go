package session

import "civicease-backend/internal/library"

// DocumentView is the active document as rendered to the client. The raw
// image bytes are served only through the library endpoints.
type DocumentView struct {
	ID          string                 `json:"id"`
	Timestamp   int64                  `json:"timestamp"`
	FileName    string                 `json:"fileName"`
	MimeType    string                 `json:"mimeType"`
	Analysis    library.AnalysisResult `json:"analysis"`
	ChatHistory []library.ChatMessage  `json:"chatHistory"`
}

// SessionView is a point-in-time snapshot of the session.
type SessionView struct {
	State           string        `json:"state"`
	PendingFileName string        `json:"pendingFileName,omitempty"`
	Error           string        `json:"error,omitempty"`
	Document        *DocumentView `json:"document,omitempty"`
}

// Snapshot returns a read-only view of the current session.
func (c *Controller) Snapshot() SessionView {
	c.mu.Lock()
	defer c.mu.Unlock()

	view := SessionView{
		State: string(c.stateLocked()),
		Error: c.lastErr,
	}
	if c.pending != nil {
		view.PendingFileName = c.pending.fileName
	}
	if c.active != nil {
		history := make([]library.ChatMessage, len(c.active.history))
		copy(history, c.active.history)
		view.Document = &DocumentView{
			ID:          c.active.id,
			Timestamp:   c.active.timestamp,
			FileName:    c.active.fileName,
			MimeType:    c.active.mimeType,
			Analysis:    c.active.analysis,
			ChatHistory: history,
		}
	}
	return view
}
