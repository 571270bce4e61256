package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/knowledge-chat/internal/common"
)

func (h *Handler) GetPreamble(c *gin.Context) {
	common.OK(c, gin.H{
		"content":    h.Agent.Preamble(),
		"updated_at": h.Agent.PreambleUpdatedAt(),
	})
}

type updatePreambleReq struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) UpdatePreamble(c *gin.Context) {
	var req updatePreambleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if err := h.Agent.SetPreamble(req.Content); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50030, "failed to update preamble")
		return
	}
	common.OK(c, gin.H{
		"content":    req.Content,
		"updated_at": h.Agent.PreambleUpdatedAt(),
	})
}
