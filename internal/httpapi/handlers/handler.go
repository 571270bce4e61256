// Package handlers implements the HTTP endpoints.
package handlers

import (
	"gorm.io/gorm"

	"github.com/suPer8Hu/knowledge-chat/internal/agent"
	"github.com/suPer8Hu/knowledge-chat/internal/chat"
	"github.com/suPer8Hu/knowledge-chat/internal/config"
	"github.com/suPer8Hu/knowledge-chat/internal/docs"
	"github.com/suPer8Hu/knowledge-chat/internal/log"
)

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	Agent    *agent.Agent
	ChatSvc  *chat.Service
	ChatRepo *chat.Repo
	Docs     *docs.Service
	Logger   log.Logger
}

func NewHandler(db *gorm.DB, cfg config.Config, ag *agent.Agent, chatSvc *chat.Service, chatRepo *chat.Repo, docsSvc *docs.Service, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Handler{
		DB:       db,
		Cfg:      cfg,
		Agent:    ag,
		ChatSvc:  chatSvc,
		ChatRepo: chatRepo,
		Docs:     docsSvc,
		Logger:   logger.With("component", "http"),
	}
}
