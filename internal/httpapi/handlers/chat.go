package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/knowledge-chat/internal/chat"
	"github.com/suPer8Hu/knowledge-chat/internal/common"
)

type chatReq struct {
	Message string `json:"message" binding:"required"`
	UserID  string `json:"user_id"`
}

func (h *Handler) Chat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	result, err := h.ChatSvc.Chat(c.Request.Context(), req.UserID, req.Message)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			common.Fail(c, http.StatusBadRequest, 10010, "message must not be empty")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50010, "internal error")
		return
	}

	common.OK(c, gin.H{
		"response": result.Reply,
		"user_id":  result.UserID,
	})
}

// ChatStream answers over SSE. When the user id was generated server-side
// it is announced first as an "event: user_id" frame. Reply fragments go
// out as default events with newlines encoded as [LF], terminated by a
// single [DONE] frame.
func (h *Handler) ChatStream(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	result, err := h.ChatSvc.StreamChat(c.Request.Context(), req.UserID, req.Message)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			common.Fail(c, http.StatusBadRequest, 10010, "message must not be empty")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50010, "internal error")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprint(c.Writer, "data: [DONE]\n\n")
		return
	}

	if result.Generated {
		fmt.Fprintf(c.Writer, "event: user_id\ndata: %s\n\n", result.UserID)
		flusher.Flush()
	}

	ctx := c.Request.Context()
	for {
		select {
		case frag, ok := <-result.Fragments:
			if !ok {
				fmt.Fprint(c.Writer, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", encodeFragment(frag))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// encodeFragment keeps multi-line fragments inside one SSE data field.
func encodeFragment(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "[LF]")
}

func (h *Handler) ChatHistory(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		common.Fail(c, http.StatusBadRequest, 10011, "user_id required")
		return
	}

	msgs, err := h.ChatSvc.UserHistory(c.Request.Context(), userID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50011, "failed to load history")
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}
