package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/RichardoC/labassist/internal/ingest"
	"github.com/RichardoC/labassist/internal/models"
	"github.com/RichardoC/labassist/internal/session"
	"go.uber.org/zap"
)

// maxUploadMemory bounds the multipart parser's in-memory buffer; larger parts
// spill to temporary files.
const maxUploadMemory = 32 << 20

type Handler struct {
	sessions *session.Manager
	logger   *zap.Logger
}

func NewHandler(sessions *session.Manager, logger *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		logger:   logger,
	}
}

type CredentialRequest struct {
	Key string `json:"key"`
}

type MessageRequest struct {
	Content string `json:"content"`
}

type MessageResponse struct {
	Message models.Message `json:"message"`
}

type SessionResponse struct {
	Authenticated bool                  `json:"authenticated"`
	Files         []models.UploadedFile `json:"files"`
	Messages      []models.Message      `json:"messages"`
	InFlight      bool                  `json:"in_flight"`
}

type FilesResponse struct {
	Files []models.UploadedFile `json:"files"`
}

type FileResponse struct {
	File  models.UploadedFile `json:"file"`
	Total int                 `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/session", h.GetSession)
	mux.HandleFunc("/api/credential", h.Credential)
	mux.HandleFunc("/api/files", h.Files)
	mux.HandleFunc("/api/messages", h.GetMessages)
	mux.HandleFunc("/api/message", h.HandleMessage)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg})
}

// gate rejects requests while no credential is set.
func (h *Handler) gate(w http.ResponseWriter) bool {
	if h.sessions.Authenticated() {
		return true
	}
	h.writeError(w, http.StatusUnauthorized, "API key required")
	return false
}

func nonNilFiles(files []models.UploadedFile) []models.UploadedFile {
	if files == nil {
		return []models.UploadedFile{}
	}
	return files
}

func nonNilMessages(messages []models.Message) []models.Message {
	if messages == nil {
		return []models.Message{}
	}
	return messages
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s := h.sessions.Snapshot()
	h.writeJSON(w, http.StatusOK, SessionResponse{
		Authenticated: s.Credential != "",
		Files:         nonNilFiles(s.Files),
		Messages:      nonNilMessages(s.Messages),
		InFlight:      s.InFlight,
	})
}

func (h *Handler) Credential(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req CredentialRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := h.sessions.Authenticate(req.Key); err != nil {
			if errors.Is(err, session.ErrEmptyCredential) {
				h.writeError(w, http.StatusBadRequest, "API key must not be empty")
				return
			}
			h.logger.Error("Failed to save credential", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := h.sessions.Reset(); err != nil {
			h.logger.Error("Failed to reset session", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *Handler) Files(w http.ResponseWriter, r *http.Request) {
	if !h.gate(w) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, FilesResponse{Files: nonNilFiles(h.sessions.Snapshot().Files)})

	case http.MethodPost:
		h.uploadFile(w, r)

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			h.writeError(w, http.StatusBadRequest, "Query parameter 'id' is required")
			return
		}
		if !h.sessions.RemoveFile(id) {
			h.writeError(w, http.StatusNotFound, "File not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *Handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	part, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Form field 'file' is required")
		return
	}
	defer part.Close()

	confirmed, _ := strconv.ParseBool(r.FormValue("confirm_large"))
	declined := false
	d := ingest.Descriptor{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Content:  part,
	}
	f, added, err := h.sessions.AddFile(d, func(string, int64) bool {
		declined = !confirmed
		return confirmed
	})
	switch {
	case errors.Is(err, ingest.ErrUnsupportedType):
		h.writeError(w, http.StatusUnsupportedMediaType, ingest.Notice(err))
	case errors.Is(err, ingest.ErrEmptyFile):
		h.writeError(w, http.StatusBadRequest, ingest.Notice(err))
	case err != nil:
		h.writeError(w, http.StatusUnprocessableEntity, ingest.Notice(err))
	case !added && declined:
		// Nothing changed; the page asks the user and retries with confirm_large.
		h.writeError(w, http.StatusConflict, ingest.Notice(ingest.ErrDeclined))
	default:
		h.writeJSON(w, http.StatusCreated, FileResponse{File: f, Total: len(h.sessions.Snapshot().Files)})
	}
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !h.gate(w) {
		return
	}
	h.writeJSON(w, http.StatusOK, nonNilMessages(h.sessions.Snapshot().Messages))
}

func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !h.gate(w) {
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// A turn cannot be aborted once issued, so a dropped connection must not
	// cancel the call.
	msg, err := h.sessions.Submit(context.WithoutCancel(r.Context()), req.Content)
	switch {
	case errors.Is(err, session.ErrEmptyInput):
		h.writeError(w, http.StatusBadRequest, "Message must not be empty")
		return
	case errors.Is(err, session.ErrBusy):
		h.writeError(w, http.StatusConflict, "A response is still being generated")
		return
	case err != nil:
		h.logger.Error("Failed to process message", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
}
