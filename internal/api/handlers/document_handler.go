package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/contexta-rag/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-rag/internal/logger"
	"github.com/markdave123-py/contexta-rag/internal/models"
)

const defaultMaxUpload = 50 << 20

type DocumentHandler struct {
	ingestor  ingestion_engine.Ingestor
	maxUpload int64
	log       *logger.Logger
}

func NewDocumentHandler(ing ingestion_engine.Ingestor, maxUpload int64, log *logger.Logger) *DocumentHandler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &DocumentHandler{ingestor: ing, maxUpload: maxUpload, log: log.With("handler", "documents")}
}

// UploadDocument reads the multipart "file" field and runs it through the
// pipeline before answering.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	// multipart framing needs a little room on top of the file itself
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: fmt.Sprintf("file exceeds %d MB", h.maxUpload>>20)})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid multipart form"})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing file field"})
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: fmt.Sprintf("file exceeds %d MB", h.maxUpload>>20)})
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "could not read file"})
		return
	}

	res, err := h.ingestor.UploadAndProcess(r.Context(), header.Filename, content)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	status := models.ProcessingStatus(r.URL.Query().Get("status"))
	docs, err := h.ingestor.ListDocuments(r.Context(), status)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "total": len(docs)})
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.ingestor.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if doc == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("document %s not found", id)})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	res, err := h.ingestor.DeleteDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReprocessDocument queues a failed document and answers 202 straight away.
func (h *DocumentHandler) ReprocessDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ingestor.RequestReprocess(r.Context(), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "accepted",
		"document_id": id,
	})
}
