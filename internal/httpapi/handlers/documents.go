package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/knowledge-chat/internal/backup"
	"github.com/suPer8Hu/knowledge-chat/internal/common"
	"github.com/suPer8Hu/knowledge-chat/internal/docs"
	"github.com/suPer8Hu/knowledge-chat/internal/parser"
)

type createDocumentReq struct {
	Filename string `json:"filename" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

func (h *Handler) CreateDocument(c *gin.Context) {
	var req createDocumentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	doc, err := h.Docs.Create(c.Request.Context(), req.Filename, req.Content)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50020, "failed to store document")
		return
	}
	common.OK(c, doc)
}

// UploadDocument accepts a multipart form with a "file" part and parses it
// by file type before ingestion.
func (h *Handler) UploadDocument(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10020, "file part required")
		return
	}
	if file.Size > backup.MaxFileSize {
		common.Fail(c, http.StatusRequestEntityTooLarge, 10021, "file too large")
		return
	}

	f, err := file.Open()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50021, "failed to read upload")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50021, "failed to read upload")
		return
	}

	doc, err := h.Docs.Upload(c.Request.Context(), file.Filename, data)
	if err != nil {
		switch {
		case errors.Is(err, parser.ErrUnsupportedFileType):
			common.Fail(c, http.StatusBadRequest, 10022, "unsupported file type")
		case errors.Is(err, parser.ErrEmptyDocument):
			common.Fail(c, http.StatusBadRequest, 10023, "document has no extractable text")
		case errors.Is(err, parser.ErrDecodingFailed), errors.Is(err, parser.ErrParseFailed):
			common.Fail(c, http.StatusBadRequest, 10024, "failed to parse document")
		default:
			common.Fail(c, http.StatusInternalServerError, 50020, "failed to store document")
		}
		return
	}
	common.OK(c, doc)
}

func (h *Handler) ListDocuments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	documents, total, err := h.Docs.List(c.Request.Context(), limit, offset)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50022, "failed to list documents")
		return
	}
	common.OK(c, gin.H{
		"documents": documents,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.Docs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, docs.ErrNotFound) {
		common.Fail(c, http.StatusNotFound, 40420, "document not found")
		return
	}
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50023, "failed to load document")
		return
	}
	common.OK(c, doc)
}

type updateDocumentReq struct {
	Filename string `json:"filename"`
	Content  string `json:"content" binding:"required"`
}

func (h *Handler) UpdateDocument(c *gin.Context) {
	var req updateDocumentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	doc, err := h.Docs.Update(c.Request.Context(), c.Param("id"), req.Filename, req.Content)
	if errors.Is(err, docs.ErrNotFound) {
		common.Fail(c, http.StatusNotFound, 40420, "document not found")
		return
	}
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50024, "failed to update document")
		return
	}
	common.OK(c, doc)
}

func (h *Handler) DeleteDocument(c *gin.Context) {
	if err := h.Docs.Delete(c.Request.Context(), c.Param("id")); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50025, "failed to delete document")
		return
	}
	common.OK(c, gin.H{"deleted": c.Param("id")})
}

func (h *Handler) ResetDocuments(c *gin.Context) {
	if err := h.Docs.Reset(c.Request.Context()); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50026, "failed to reset documents")
		return
	}
	common.OK(c, gin.H{"reset": true})
}
