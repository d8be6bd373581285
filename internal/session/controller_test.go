package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"civicease-backend/internal/library"
	"civicease-backend/internal/llm"
	localblob "civicease-backend/internal/shared/storage/blob/local"
)

// pngBytes is a minimal payload carrying the PNG signature so upload
// validation sniffs it as image/png.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), []byte("fake image payload")...)

// fakeLLM is a scriptable model double.
type fakeLLM struct {
	mu           sync.Mutex
	result       library.AnalysisResult
	analyzeErr   error
	analyzeBlock chan struct{}
	chatReply    string
	chatErr      error
}

func (f *fakeLLM) Analyze(ctx context.Context, imageData []byte, mimeType string) (library.AnalysisResult, error) {
	f.mu.Lock()
	block := f.analyzeBlock
	result, err := f.result, f.analyzeErr
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return result, err
}

func (f *fakeLLM) Chat(ctx context.Context, imageData []byte, mimeType string, history []library.ChatMessage, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatReply, f.chatErr
}

func goodResult() library.AnalysisResult {
	return library.AnalysisResult{
		Summary:     "A reminder to submit the missing registration form.",
		Urgency:     library.UrgencyMedium,
		ActionSteps: []string{"Fill out the form", "Send it back"},
		DraftReply:  "Dear office,",
	}
}

func newTestController(t *testing.T, model llm.Client) (*Controller, *library.Store, string) {
	t.Helper()
	dir := t.TempDir()
	lib := library.NewStore(localblob.New(filepath.Join(dir, "library.json")))
	previewDir := filepath.Join(dir, "previews")
	return NewController(lib, model, previewDir), lib, previewDir
}

func previewCount(t *testing.T, previewDir string) int {
	t.Helper()
	entries, err := os.ReadDir(previewDir)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	return len(entries)
}

func TestAnalyzeSuccessStoresAndActivates(t *testing.T) {
	model := &fakeLLM{result: goodResult()}
	ctrl, lib, previewDir := newTestController(t, model)
	ctx := context.Background()

	if err := ctrl.SelectFile(ctx, "bescheid.png", pngBytes); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if ctrl.State() != StateFilePending {
		t.Fatalf("expected file_pending, got %s", ctrl.State())
	}
	if got := previewCount(t, previewDir); got != 1 {
		t.Fatalf("expected 1 preview file, got %d", got)
	}

	doc, err := ctrl.Analyze(ctx)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if ctrl.State() != StateViewing {
		t.Fatalf("expected viewing, got %s", ctrl.State())
	}
	if doc.ID == "" || doc.Timestamp == 0 {
		t.Fatalf("expected minted id and timestamp, got %+v", doc)
	}
	if len(doc.ChatHistory) != 0 {
		t.Fatalf("expected empty chat history on a fresh document")
	}

	stored := lib.List(ctx)
	if len(stored) != 1 || stored[0].ID != doc.ID {
		t.Fatalf("expected document persisted, got %+v", stored)
	}
	if stored[0].Analysis.Summary != goodResult().Summary {
		t.Fatalf("analysis not persisted: %+v", stored[0].Analysis)
	}
	if string(stored[0].ImageData) != string(pngBytes) {
		t.Fatalf("image bytes not persisted")
	}

	// The preview is released once the document is stored.
	if got := previewCount(t, previewDir); got != 0 {
		t.Fatalf("expected preview released, found %d files", got)
	}

	view := ctrl.Snapshot()
	if view.Document == nil || view.Document.ID != doc.ID {
		t.Fatalf("snapshot missing active document: %+v", view)
	}
	if view.Error != "" {
		t.Fatalf("unexpected error in snapshot: %q", view.Error)
	}
}

func TestChatTurnPersistsThroughLibrary(t *testing.T) {
	model := &fakeLLM{result: goodResult(), chatReply: "The deadline is in the second paragraph."}
	ctrl, lib, _ := newTestController(t, model)
	ctx := context.Background()

	if err := ctrl.SelectFile(ctx, "bescheid.png", pngBytes); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	doc, err := ctrl.Analyze(ctx)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	history, err := ctrl.SendChat(ctx, "Where is the deadline?")
	if err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != library.RoleUser || history[1].Role != library.RoleModel {
		t.Fatalf("role order mismatch: %+v", history)
	}

	stored, ok := lib.Get(ctx, doc.ID)
	if !ok {
		t.Fatalf("document vanished from library")
	}
	if len(stored.ChatHistory) != 2 || stored.ChatHistory[1].Text != "The deadline is in the second paragraph." {
		t.Fatalf("chat history not persisted: %+v", stored.ChatHistory)
	}

	view := ctrl.Snapshot()
	if view.Document == nil || len(view.Document.ChatHistory) != 2 {
		t.Fatalf("snapshot history not refreshed: %+v", view.Document)
	}
}

func TestChatFailureRecordsNoticeInThread(t *testing.T) {
	model := &fakeLLM{result: goodResult(), chatErr: errors.New("upstream down")}
	ctrl, lib, _ := newTestController(t, model)
	ctx := context.Background()

	if err := ctrl.SelectFile(ctx, "bescheid.png", pngBytes); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	doc, err := ctrl.Analyze(ctx)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	history, err := ctrl.SendChat(ctx, "Hello?")
	if err != nil {
		t.Fatalf("SendChat must absorb the provider failure: %v", err)
	}
	if len(history) != 2 || history[1].Role != library.RoleModel {
		t.Fatalf("expected user turn plus notice, got %+v", history)
	}

	stored, _ := lib.Get(ctx, doc.ID)
	if len(stored.ChatHistory) != 2 {
		t.Fatalf("failed turn not persisted: %+v", stored.ChatHistory)
	}
}

func TestAnalyzeFailureKeepsFilePending(t *testing.T) {
	model := &fakeLLM{analyzeErr: errors.New("model overloaded")}
	ctrl, lib, previewDir := newTestController(t, model)
	ctx := context.Background()

	if err := ctrl.SelectFile(ctx, "bescheid.png", pngBytes); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}

	if _, err := ctrl.Analyze(ctx); err == nil {
		t.Fatalf("expected analyze error")
	}
	if ctrl.State() != StateFilePending {
		t.Fatalf("expected file_pending after failure, got %s", ctrl.State())
	}
	if len(lib.List(ctx)) != 0 {
		t.Fatalf("failed analysis must not be stored")
	}

	view := ctrl.Snapshot()
	if view.Error == "" {
		t.Fatalf("expected error recorded in snapshot")
	}
	if view.PendingFileName != "bescheid.png" {
		t.Fatalf("expected pending file retained, got %q", view.PendingFileName)
	}
	// The preview survives so a retry can still display the file.
	if got := previewCount(t, previewDir); got != 1 {
		t.Fatalf("expected preview retained, found %d files", got)
	}

	// Retry succeeds without re-selecting.
	model.mu.Lock()
	model.analyzeErr = nil
	model.result = goodResult()
	model.mu.Unlock()

	if _, err := ctrl.Analyze(ctx); err != nil {
		t.Fatalf("retry Analyze: %v", err)
	}
	if ctrl.State() != StateViewing {
		t.Fatalf("expected viewing after retry, got %s", ctrl.State())
	}
	if view := ctrl.Snapshot(); view.Error != "" {
		t.Fatalf("error must clear on retry, got %q", view.Error)
	}
}

func TestAnalyzeCredentialFailureUsesFixedMessage(t *testing.T) {
	model := &fakeLLM{analyzeErr: llm.ErrNotConfigured}
	ctrl, _, _ := newTestController(t, model)
	ctx := context.Background()

	if err := ctrl.SelectFile(ctx, "bescheid.png", pngBytes); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if _, err := ctrl.Analyze(ctx); err == nil {
		t.Fatalf("expected analyze error")
	}

	if view := ctrl.Snapshot(); view.Error != credentialErrorMessage {
		t.Fatalf("expected credential message, got %q", view.Error)
	}
}

func TestAnalyzeWithoutPendingFile(t *testing.T) {
	ctrl, _, _ := newTestController(t, &fakeLLM{result: goodResult()})

	if _, err := ctrl.Analyze(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestSelectFileRejectsUnsupportedPayload(t *testing.T) {
	ctrl, _, previewDir := newTestController(t, &fakeLLM{})

	err := ctrl.SelectFile(context.Background(), "notes.txt", []byte("plain text, not a document image"))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if ctrl.State() != StateIdle {
		t.Fatalf("rejected file must not change state, got %s", ctrl.State())
	}
	if got := previewCount(t, previewDir); got != 0 {
		t.Fatalf("rejected file must not leave a preview, found %d", got)
	}
}

func TestSelectFileReplacesPendingFile(t *testing.T) {
	ctrl, _, previewDir := newTestController(t, &fakeLLM{result: goodResult()})
	ctx := context.Background()

	if err := ctrl.SelectFile(ctx, "first.png", pngBytes); err != nil {
		t.Fatalf("SelectFile first: %v", err)
	}
	if err := ctrl.SelectFile(ctx, "second.png", pngBytes); err != nil {
		t.Fatalf("SelectFile second: %v", err)
	}

	if view := ctrl.Snapshot(); view.PendingFileName != "second.png" {
		t.Fatalf("expected second.png pending, got %q", view.PendingFileName)
	}
	// The first preview was released when it was replaced.
	if got := previewCount(t, previewDir); got != 1 {
		t.Fatalf("expected exactly 1 preview file, found %d", got)
	}
}

func TestClearMidAnalysisDiscardsResult(t *testing.T) {
	block := make(chan struct{})
	model := &fakeLLM{result: goodResult(), analyzeBlock: block}
	ctrl, lib, _ := newTestController(t, model)
	ctx := context.Background()

	if err := ctrl.SelectFile(ctx, "bescheid.png", pngBytes); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Analyze(ctx)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for ctrl.State() != StateAnalyzing {
		select {
		case <-deadline:
			t.Fatalf("analysis never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	ctrl.Clear(ctx)
	close(block)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if ctrl.State() != StateIdle {
		t.Fatalf("expected idle after clear, got %s", ctrl.State())
	}
	if len(lib.List(ctx)) != 0 {
		t.Fatalf("superseded result must not be stored")
	}
	if view := ctrl.Snapshot(); view.Document != nil || view.PendingFileName != "" {
		t.Fatalf("expected empty snapshot, got %+v", view)
	}
}

func TestSelectFileWhileAnalyzingIsRejected(t *testing.T) {
	block := make(chan struct{})
	model := &fakeLLM{result: goodResult(), analyzeBlock: block}
	ctrl, _, _ := newTestController(t, model)
	ctx := context.Background()

	if err := ctrl.SelectFile(ctx, "first.png", pngBytes); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Analyze(ctx)
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for ctrl.State() != StateAnalyzing {
		select {
		case <-deadline:
			t.Fatalf("analysis never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := ctrl.SelectFile(ctx, "second.png", pngBytes); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := ctrl.Analyze(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for overlapping analyze, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("Analyze: %v", err)
	}
}

func TestSelectFromLibraryActivatesStoredDocument(t *testing.T) {
	model := &fakeLLM{result: goodResult(), chatReply: "ok"}
	ctrl, lib, _ := newTestController(t, model)
	ctx := context.Background()

	seeded := library.StoredDocument{
		ID:        "stored-1",
		Timestamp: 1700000000000,
		FileName:  "old-letter.png",
		MimeType:  "image/png",
		ImageData: pngBytes,
		Analysis:  goodResult(),
		ChatHistory: []library.ChatMessage{
			{Role: library.RoleUser, Text: "earlier question"},
			{Role: library.RoleModel, Text: "earlier answer"},
		},
	}
	lib.Save(ctx, seeded)

	doc, err := ctrl.SelectFromLibrary(ctx, "stored-1")
	if err != nil {
		t.Fatalf("SelectFromLibrary: %v", err)
	}
	if doc.ID != "stored-1" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if ctrl.State() != StateViewing {
		t.Fatalf("expected viewing, got %s", ctrl.State())
	}

	// The resumed thread continues from the stored history.
	history, err := ctrl.SendChat(ctx, "follow-up")
	if err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected resumed history of 4, got %d", len(history))
	}

	if _, err := ctrl.SelectFromLibrary(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSingleActiveDocument(t *testing.T) {
	model := &fakeLLM{result: goodResult()}
	ctrl, lib, _ := newTestController(t, model)
	ctx := context.Background()

	lib.Save(ctx, library.StoredDocument{ID: "a", FileName: "a.png", MimeType: "image/png", ImageData: pngBytes})
	lib.Save(ctx, library.StoredDocument{ID: "b", FileName: "b.png", MimeType: "image/png", ImageData: pngBytes})

	if _, err := ctrl.SelectFromLibrary(ctx, "a"); err != nil {
		t.Fatalf("activate a: %v", err)
	}
	if _, err := ctrl.SelectFromLibrary(ctx, "b"); err != nil {
		t.Fatalf("activate b: %v", err)
	}

	view := ctrl.Snapshot()
	if view.Document == nil || view.Document.ID != "b" {
		t.Fatalf("expected b active, got %+v", view.Document)
	}
	// Switching the active document never mutates stored records.
	if got := len(lib.List(ctx)); got != 2 {
		t.Fatalf("expected 2 stored documents, got %d", got)
	}
}

func TestDeleteActiveDocumentMovesToBrowsing(t *testing.T) {
	model := &fakeLLM{result: goodResult()}
	ctrl, lib, _ := newTestController(t, model)
	ctx := context.Background()

	if err := ctrl.SelectFile(ctx, "bescheid.png", pngBytes); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	doc, err := ctrl.Analyze(ctx)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	ctrl.DeleteFromLibrary(ctx, doc.ID)

	if ctrl.State() != StateBrowsing {
		t.Fatalf("expected browsing after deleting the active document, got %s", ctrl.State())
	}
	if len(lib.List(ctx)) != 0 {
		t.Fatalf("document not deleted")
	}
	if view := ctrl.Snapshot(); view.Document != nil {
		t.Fatalf("expected no active document, got %+v", view.Document)
	}
	if _, err := ctrl.SendChat(ctx, "anyone there?"); !errors.Is(err, ErrNoActiveDocument) {
		t.Fatalf("expected ErrNoActiveDocument, got %v", err)
	}
}

func TestDeleteInactiveDocumentKeepsView(t *testing.T) {
	model := &fakeLLM{result: goodResult()}
	ctrl, lib, _ := newTestController(t, model)
	ctx := context.Background()

	lib.Save(ctx, library.StoredDocument{ID: "other", FileName: "other.png", MimeType: "image/png", ImageData: pngBytes})

	if err := ctrl.SelectFile(ctx, "bescheid.png", pngBytes); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	doc, err := ctrl.Analyze(ctx)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	ctrl.DeleteFromLibrary(ctx, "other")

	if ctrl.State() != StateViewing {
		t.Fatalf("deleting another document must not disturb the view, got %s", ctrl.State())
	}
	if view := ctrl.Snapshot(); view.Document == nil || view.Document.ID != doc.ID {
		t.Fatalf("active document lost: %+v", view.Document)
	}
}

func TestClearReleasesPreviewExactlyOnce(t *testing.T) {
	ctrl, _, previewDir := newTestController(t, &fakeLLM{})
	ctx := context.Background()

	if err := ctrl.SelectFile(ctx, "bescheid.png", pngBytes); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if got := previewCount(t, previewDir); got != 1 {
		t.Fatalf("expected 1 preview, got %d", got)
	}

	ctrl.Clear(ctx)
	if got := previewCount(t, previewDir); got != 0 {
		t.Fatalf("expected preview removed, found %d", got)
	}
	if ctrl.State() != StateIdle {
		t.Fatalf("expected idle, got %s", ctrl.State())
	}

	// A second clear is a no-op.
	ctrl.Clear(ctx)
	if ctrl.State() != StateIdle {
		t.Fatalf("expected idle after repeat clear, got %s", ctrl.State())
	}
}

func TestBrowseReportsBrowsingOnlyWhenIdle(t *testing.T) {
	model := &fakeLLM{result: goodResult()}
	ctrl, _, _ := newTestController(t, model)
	ctx := context.Background()

	ctrl.Browse()
	if ctrl.State() != StateBrowsing {
		t.Fatalf("expected browsing, got %s", ctrl.State())
	}

	if err := ctrl.SelectFile(ctx, "bescheid.png", pngBytes); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if ctrl.State() != StateFilePending {
		t.Fatalf("selecting a file leaves the library view, got %s", ctrl.State())
	}
}
