package session

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"civicease-backend/internal/chat"
	"civicease-backend/internal/extract"
	"civicease-backend/internal/library"
	"civicease-backend/internal/llm"
	"civicease-backend/internal/shared/server/respond"
)

const maxUploadSize = 15 << 20 // 15MB

// Handler wires HTTP handlers to the session controller and library store.
type Handler struct {
	Ctrl    *Controller
	Library *library.Store
}

// NewHandler constructs a Handler.
func NewHandler(ctrl *Controller, lib *library.Store) *Handler {
	return &Handler{Ctrl: ctrl, Library: lib}
}

// RegisterRoutes attaches session and library routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/library", h.listLibrary)
	rg.GET("/library/:id", h.getDocument)
	rg.DELETE("/library/:id", h.deleteDocument)

	rg.GET("/session", h.snapshot)
	rg.POST("/session/file", h.selectFile)
	rg.POST("/session/analyze", h.analyze)
	rg.POST("/session/activate/:id", h.activate)
	rg.POST("/session/clear", h.clear)
	rg.POST("/session/chat", h.sendChat)
}

func (h *Handler) listLibrary(c *gin.Context) {
	h.Ctrl.Browse()

	docs := h.Library.List(c.Request.Context())
	resp := make([]gin.H, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, gin.H{
			"id":           doc.ID,
			"timestamp":    doc.Timestamp,
			"fileName":     doc.FileName,
			"mimeType":     doc.MimeType,
			"summary":      doc.Analysis.Summary,
			"urgency":      doc.Analysis.Urgency,
			"messageCount": len(doc.ChatHistory),
		})
	}
	respond.OK(c, resp)
}

func (h *Handler) getDocument(c *gin.Context) {
	doc, ok := h.Library.Get(c.Request.Context(), c.Param("id"))
	if !ok {
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		return
	}
	respond.OK(c, doc)
}

func (h *Handler) deleteDocument(c *gin.Context) {
	id := c.Param("id")
	h.Ctrl.DeleteFromLibrary(c.Request.Context(), id)
	c.Set("documentId", id)
	c.Status(http.StatusNoContent)
}

func (h *Handler) snapshot(c *gin.Context) {
	view := h.Ctrl.Snapshot()
	c.Set("sessionState", view.State)
	respond.OK(c, view)
}

func (h *Handler) selectFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}

	if err := h.Ctrl.SelectFile(c.Request.Context(), fileHeader.Filename, data); err != nil {
		switch {
		case errors.Is(err, extract.ErrUnsupportedType):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		case errors.Is(err, ErrBusy):
			respond.Error(c, http.StatusConflict, "busy", "an analysis is in progress", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to accept file", nil)
		}
		return
	}

	respond.Created(c, h.Ctrl.Snapshot())
}

func (h *Handler) analyze(c *gin.Context) {
	doc, err := h.Ctrl.Analyze(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, ErrBusy):
			respond.Error(c, http.StatusConflict, "busy", "an analysis is already in progress", nil)
		case errors.Is(err, ErrInvalidState):
			respond.Error(c, http.StatusConflict, "invalid_state", "no file is pending analysis", nil)
		case errors.Is(err, ErrSuperseded):
			respond.Error(c, http.StatusConflict, "superseded", "the session moved on before analysis finished", nil)
		case errors.Is(err, llm.ErrCredentials), errors.Is(err, llm.ErrNotConfigured):
			respond.Error(c, http.StatusBadGateway, "credential_error", credentialErrorMessage, nil)
		default:
			respond.Error(c, http.StatusBadGateway, "analysis_failed", "analysis failed; the file is still selected, try again", nil)
		}
		return
	}

	c.Set("documentId", doc.ID)
	respond.Created(c, h.Ctrl.Snapshot())
}

func (h *Handler) activate(c *gin.Context) {
	doc, err := h.Ctrl.SelectFromLibrary(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to activate document", nil)
		return
	}

	c.Set("documentId", doc.ID)
	respond.OK(c, h.Ctrl.Snapshot())
}

func (h *Handler) clear(c *gin.Context) {
	h.Ctrl.Clear(c.Request.Context())
	respond.OK(c, h.Ctrl.Snapshot())
}

type chatRequest struct {
	Message string `json:"message"`
}

func (h *Handler) sendChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "message is required", nil)
		return
	}

	history, err := h.Ctrl.SendChat(c.Request.Context(), req.Message)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoActiveDocument):
			respond.Error(c, http.StatusConflict, "invalid_state", "no document is active", nil)
		case errors.Is(err, chat.ErrBusy):
			respond.Error(c, http.StatusConflict, "busy", "a chat message is already being answered", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to send message", nil)
		}
		return
	}

	respond.OK(c, gin.H{"chatHistory": history})
}
