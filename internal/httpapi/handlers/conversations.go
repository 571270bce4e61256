package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/knowledge-chat/internal/common"
)

func (h *Handler) ListConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	search := c.Query("search")

	convs, total, err := h.ChatRepo.List(c.Request.Context(), limit, offset, search)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50050, "failed to list conversations")
		return
	}
	common.OK(c, gin.H{
		"conversations": convs,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

func (h *Handler) ConversationStats(c *gin.Context) {
	stats, err := h.ChatRepo.Stats(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50051, "failed to compute stats")
		return
	}
	common.OK(c, stats)
}

func (h *Handler) GetConversation(c *gin.Context) {
	id := c.Param("id")

	conv, err := h.ChatRepo.Get(c.Request.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		common.Fail(c, http.StatusNotFound, 40450, "conversation not found")
		return
	}
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50052, "failed to load conversation")
		return
	}

	msgs, err := h.ChatRepo.Messages(c.Request.Context(), id)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50052, "failed to load conversation")
		return
	}
	common.OK(c, gin.H{
		"conversation": conv,
		"messages":     msgs,
	})
}

type updateConversationReq struct {
	Status string `json:"status"`
	Title  string `json:"title"`
}

func (h *Handler) UpdateConversation(c *gin.Context) {
	var req updateConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	conv, err := h.ChatRepo.Update(c.Request.Context(), c.Param("id"), req.Status, req.Title)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		common.Fail(c, http.StatusNotFound, 40450, "conversation not found")
		return
	}
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10050, "failed to update conversation")
		return
	}
	common.OK(c, conv)
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	err := h.ChatRepo.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		common.Fail(c, http.StatusNotFound, 40450, "conversation not found")
		return
	}
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50053, "failed to delete conversation")
		return
	}
	common.OK(c, gin.H{"deleted": c.Param("id")})
}

func (h *Handler) UserConversations(c *gin.Context) {
	convs, err := h.ChatRepo.UserConversations(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50054, "failed to list conversations")
		return
	}
	common.OK(c, gin.H{"conversations": convs})
}
