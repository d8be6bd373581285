package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"civicease-backend/internal/chat"
	"civicease-backend/internal/extract"
	"civicease-backend/internal/library"
	"civicease-backend/internal/llm"
	"civicease-backend/internal/shared/telemetry"
)

// State is the document lifecycle state of the session.
type State string

const (
	StateIdle        State = "idle"
	StateFilePending State = "file_pending"
	StateAnalyzing   State = "analyzing"
	StateViewing     State = "viewing"
	// StateBrowsing is reported while the library view is open with no
	// document active.
	StateBrowsing State = "browsing"
)

const credentialErrorMessage = "Invalid or missing API key. Please check your configuration."

// pendingFile is a selected-but-not-yet-analyzed upload. It has no id and is
// discarded on clear or replaced on the next selection.
type pendingFile struct {
	fileName    string
	mimeType    string
	data        []byte
	previewPath string
}

// activeDocument is the materialized view of the single active document.
type activeDocument struct {
	id        string
	fileName  string
	timestamp int64
	mimeType  string
	imageData []byte
	analysis  library.AnalysisResult
	history   []library.ChatMessage
	session   *chat.Session
}

// Controller is the session state machine. It owns the single active
// document, drives upload → analyze → view/chat → persist, and serializes
// every transition behind one mutex.
type Controller struct {
	mu         sync.Mutex
	library    *library.Store
	gateway    llm.Client
	chats      *chat.Manager
	previewDir string

	state    State
	browsing bool
	pending  *pendingFile
	active   *activeDocument
	lastErr  string

	// generation guards in-flight analyses: Clear, SelectFile, and
	// SelectFromLibrary bump it, and a completing analysis applies its result
	// only if the generation it started under still matches.
	generation uint64
}

// NewController constructs a Controller in the Idle state.
func NewController(lib *library.Store, gateway llm.Client, previewDir string) *Controller {
	return &Controller{
		library:    lib,
		gateway:    gateway,
		chats:      chat.NewManager(gateway),
		previewDir: previewDir,
		state:      StateIdle,
	}
}

// State reports the effective session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	if c.browsing && c.state == StateIdle {
		return StateBrowsing
	}
	return c.state
}

// SelectFile validates the upload and makes it the pending file, replacing
// any previous selection and superseding any in-flight analysis.
func (c *Controller) SelectFile(ctx context.Context, fileName string, data []byte) error {
	mimeType, err := extract.ValidateUpload(data, fileName)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAnalyzing {
		return ErrBusy
	}

	c.generation++
	c.releasePreviewLocked()

	c.pending = &pendingFile{
		fileName:    fileName,
		mimeType:    mimeType,
		data:        data,
		previewPath: c.writePreview(fileName, data),
	}
	c.active = nil
	c.lastErr = ""
	c.browsing = false
	c.state = StateFilePending
	_ = ctx
	return nil
}

// Analyze runs the pending file through the gateway. On success the result is
// minted as a StoredDocument, saved, and activated with an empty chat thread.
// On failure the file stays pending so the user can retry without
// re-selecting it. A completion that arrives after the session moved on is
// discarded with ErrSuperseded.
func (c *Controller) Analyze(ctx context.Context) (library.StoredDocument, error) {
	c.mu.Lock()
	if c.state == StateAnalyzing {
		c.mu.Unlock()
		return library.StoredDocument{}, ErrBusy
	}
	if c.state != StateFilePending || c.pending == nil {
		c.mu.Unlock()
		return library.StoredDocument{}, ErrInvalidState
	}
	c.state = StateAnalyzing
	c.lastErr = ""
	gen := c.generation
	fileName := c.pending.fileName
	mimeType := c.pending.mimeType
	data := c.pending.data
	c.mu.Unlock()

	result, err := c.gateway.Analyze(ctx, data, mimeType)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		// The session was cleared or re-pointed while we were waiting. The
		// state was already reset by whoever bumped the generation.
		telemetry.Info("session.stale_analysis_discarded", map[string]any{"file_name": fileName})
		return library.StoredDocument{}, ErrSuperseded
	}

	if err != nil {
		c.state = StateFilePending
		if errors.Is(err, llm.ErrCredentials) || errors.Is(err, llm.ErrNotConfigured) {
			c.lastErr = credentialErrorMessage
		} else {
			c.lastErr = err.Error()
		}
		return library.StoredDocument{}, err
	}

	doc := library.StoredDocument{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UnixMilli(),
		FileName:    fileName,
		MimeType:    mimeType,
		ImageData:   data,
		Analysis:    result,
		ChatHistory: []library.ChatMessage{},
	}
	c.library.Save(ctx, doc)

	c.releasePreviewLocked()
	c.pending = nil
	c.activateLocked(doc)
	return doc, nil
}

// SelectFromLibrary activates a previously stored document. No re-analysis
// happens; the stored image and analysis are materialized as-is.
func (c *Controller) SelectFromLibrary(ctx context.Context, id string) (library.StoredDocument, error) {
	doc, ok := c.library.Get(ctx, id)
	if !ok {
		return library.StoredDocument{}, ErrNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.releasePreviewLocked()
	c.pending = nil
	c.lastErr = ""
	c.activateLocked(doc)
	return doc, nil
}

// Clear returns the session to Idle, discarding the pending file, the active
// document view, and any recorded error. An in-flight analysis is superseded.
func (c *Controller) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.releasePreviewLocked()
	c.pending = nil
	c.active = nil
	c.lastErr = ""
	c.browsing = false
	c.state = StateIdle
	_ = ctx
}

// DeleteFromLibrary removes a stored document. Deleting the active document
// moves the session to Browsing instead of leaving a dangling view.
func (c *Controller) DeleteFromLibrary(ctx context.Context, id string) {
	c.library.Delete(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.id == id {
		c.generation++
		c.active = nil
		c.browsing = true
		c.state = StateIdle
	}
}

// Browse opens the library view without touching the document lifecycle.
func (c *Controller) Browse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.browsing = true
}

// SendChat runs one chat turn against the active document. Both the
// provisional user append and the completed model (or error notice) append
// are persisted through the library store.
func (c *Controller) SendChat(ctx context.Context, text string) ([]library.ChatMessage, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return nil, ErrNoActiveDocument
	}
	sess := c.active.session
	id := c.active.id
	c.mu.Unlock()

	err := sess.Send(ctx, text, func(history []library.ChatMessage) {
		c.chatUpdate(ctx, id, history)
	})
	if err != nil {
		return nil, err
	}
	return sess.History(), nil
}

// chatUpdate persists the history and refreshes the in-memory view, but only
// while the same document is still active.
func (c *Controller) chatUpdate(ctx context.Context, id string, history []library.ChatMessage) {
	c.mu.Lock()
	if c.active == nil || c.active.id != id {
		c.mu.Unlock()
		return
	}
	c.active.history = history
	c.mu.Unlock()

	c.library.UpdateChatHistory(ctx, id, history)
}

func (c *Controller) activateLocked(doc library.StoredDocument) {
	c.active = &activeDocument{
		id:        doc.ID,
		fileName:  doc.FileName,
		timestamp: doc.Timestamp,
		mimeType:  doc.MimeType,
		imageData: doc.ImageData,
		analysis:  doc.Analysis,
		history:   doc.ChatHistory,
		session:   c.chats.Open(doc.ImageData, doc.MimeType, doc.ChatHistory),
	}
	c.browsing = false
	c.state = StateViewing
}

// writePreview stores a display copy of the pending file. Preview failures
// are cosmetic, so they log and leave the path empty.
func (c *Controller) writePreview(fileName string, data []byte) string {
	if c.previewDir == "" {
		return ""
	}
	if err := os.MkdirAll(c.previewDir, 0o755); err != nil {
		telemetry.Warn("session.preview_dir_failed", map[string]any{"error": err.Error()})
		return ""
	}
	name := fmt.Sprintf("%s%s", uuid.NewString(), filepath.Ext(fileName))
	path := filepath.Join(c.previewDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		telemetry.Warn("session.preview_write_failed", map[string]any{"error": err.Error()})
		return ""
	}
	return path
}

// releasePreviewLocked removes the pending preview file exactly once; the
// path is cleared after removal so a repeat call is a no-op.
func (c *Controller) releasePreviewLocked() {
	if c.pending == nil || c.pending.previewPath == "" {
		return
	}
	if err := os.Remove(c.pending.previewPath); err != nil && !os.IsNotExist(err) {
		telemetry.Warn("session.preview_release_failed", map[string]any{"error": err.Error()})
	}
	c.pending.previewPath = ""
}
