package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/knowledge-chat/internal/agent"
	"github.com/suPer8Hu/knowledge-chat/internal/chat"
	"github.com/suPer8Hu/knowledge-chat/internal/common"
	"github.com/suPer8Hu/knowledge-chat/internal/config"
	"github.com/suPer8Hu/knowledge-chat/internal/docs"
	"github.com/suPer8Hu/knowledge-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/knowledge-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/knowledge-chat/internal/log"
)

func NewRouter(db *gorm.DB, cfg config.Config, ag *agent.Agent, chatSvc *chat.Service, chatRepo *chat.Repo, docsSvc *docs.Service, logger log.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:   []string{"X-Request-ID"},
		MaxAge:          12 * time.Hour,
	}))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, ag, chatSvc, chatRepo, docsSvc, logger)

	r.GET("/ping", func(c *gin.Context) { common.OK(c, gin.H{"pong": true}) })

	api := r.Group("/api")

	// public
	api.POST("/auth/login", h.Login)
	api.POST("/chat", h.Chat)
	api.POST("/chat/stream", h.ChatStream)
	api.GET("/history/:user_id", h.ChatHistory)
	api.GET("/preamble", h.GetPreamble)

	// authenticated
	authed := api.Group("/")
	authed.Use(middleware.AuthRequired(cfg.JWTSecret))
	authed.GET("/auth/me", h.Me)

	// admin
	admin := authed.Group("/")
	admin.Use(middleware.AdminRequired())

	admin.PUT("/preamble", h.UpdatePreamble)

	admin.GET("/documents", h.ListDocuments)
	admin.POST("/documents", h.CreateDocument)
	admin.POST("/documents/upload", h.UploadDocument)
	admin.POST("/documents/reset", h.ResetDocuments)
	admin.GET("/documents/:id", h.GetDocument)
	admin.PUT("/documents/:id", h.UpdateDocument)
	admin.DELETE("/documents/:id", h.DeleteDocument)

	admin.GET("/users", h.ListUsers)
	admin.POST("/users", h.CreateUser)
	admin.GET("/users/:id", h.GetUser)
	admin.PUT("/users/:id", h.UpdateUser)
	admin.DELETE("/users/:id", h.DeleteUser)

	admin.GET("/conversations", h.ListConversations)
	admin.GET("/conversations/stats", h.ConversationStats)
	admin.GET("/conversation/:id", h.GetConversation)
	admin.PUT("/conversation/:id", h.UpdateConversation)
	admin.DELETE("/conversation/:id", h.DeleteConversation)
	admin.GET("/conversation/user/:user_id", h.UserConversations)

	return r
}
