package library

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"civicease-backend/internal/shared/storage/blob"
	"civicease-backend/internal/shared/telemetry"
)

// Store is the persistent library of analyzed documents, newest first.
//
// It is deliberately forgiving: reads of an absent or corrupt blob yield an
// empty library, and write failures are logged rather than propagated. The
// in-memory view a caller holds may run ahead of what is persisted; that is
// the accepted degraded mode when the medium is full or unreachable.
type Store struct {
	mu   sync.Mutex
	blob blob.Store
}

// NewStore constructs a Store over the given blob medium.
func NewStore(b blob.Store) *Store {
	return &Store{blob: b}
}

// List returns all stored documents in stored order (newest first).
func (s *Store) List(ctx context.Context) []StoredDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Get returns the document with the given id.
func (s *Store) Get(ctx context.Context, id string) (StoredDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.load(ctx) {
		if doc.ID == id {
			return doc, true
		}
	}
	return StoredDocument{}, false
}

// Save upserts by id: an existing document is replaced in place, a new one is
// inserted at the front.
func (s *Store) Save(ctx context.Context, doc StoredDocument) {
	doc = normalize(doc)

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.load(ctx)
	replaced := false
	for i := range docs {
		if docs[i].ID == doc.ID {
			docs[i] = doc
			replaced = true
			break
		}
	}
	if !replaced {
		docs = append([]StoredDocument{doc}, docs...)
	}
	s.persist(ctx, docs)
}

// Delete removes the document with the given id; absent ids are a no-op.
func (s *Store) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.load(ctx)
	filtered := docs[:0]
	found := false
	for _, doc := range docs {
		if doc.ID == id {
			found = true
			continue
		}
		filtered = append(filtered, doc)
	}
	if !found {
		return
	}
	s.persist(ctx, filtered)
}

// UpdateChatHistory replaces the chat history of the document with the given
// id. The document is reloaded immediately before the write so an overlapping
// Save cannot be clobbered. Absent ids are a no-op.
func (s *Store) UpdateChatHistory(ctx context.Context, id string, history []ChatMessage) {
	if history == nil {
		history = []ChatMessage{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.load(ctx)
	for i := range docs {
		if docs[i].ID == id {
			docs[i].ChatHistory = history
			s.persist(ctx, docs)
			return
		}
	}
}

// load reads and decodes the blob. Absent and corrupt blobs both read as an
// empty library; corruption is logged, never fatal.
func (s *Store) load(ctx context.Context) []StoredDocument {
	data, err := s.blob.Read(ctx)
	if err != nil {
		if !errors.Is(err, blob.ErrNotExist) {
			telemetry.Warn("library.read_failed", map[string]any{"error": err.Error()})
		}
		return []StoredDocument{}
	}
	var docs []StoredDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		telemetry.Warn("library.corrupt_blob", map[string]any{"error": err.Error()})
		return []StoredDocument{}
	}
	return docs
}

// persist rewrites the whole collection. Failures are logged and swallowed.
func (s *Store) persist(ctx context.Context, docs []StoredDocument) {
	data, err := json.Marshal(docs)
	if err != nil {
		telemetry.Error("library.encode_failed", map[string]any{"error": err.Error()})
		return
	}
	if err := s.blob.Write(ctx, data); err != nil {
		telemetry.Error("library.write_failed", map[string]any{
			"error":     err.Error(),
			"documents": len(docs),
		})
	}
}

// normalize ensures slices round-trip as [] rather than null.
func normalize(doc StoredDocument) StoredDocument {
	if doc.Analysis.ActionSteps == nil {
		doc.Analysis.ActionSteps = []string{}
	}
	if doc.ChatHistory == nil {
		doc.ChatHistory = []ChatMessage{}
	}
	return doc
}
