package config

import (
	"os"
	"strconv"
)

type Config struct {
	ServerHost string

	// Completion model (OpenAI-compatible)
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	Temperature   float64

	// Embedding model (OpenAI-compatible, defaults to the completion endpoint)
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string

	// Retrieval
	TopK int

	// Vector store
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Files and databases
	PreambleFile       string
	DocumentsDir       string
	UserDBPath         string
	ConversationDBPath string
	BackupDir          string
	BackupKeep         int

	// Auth
	JWTSecret            string
	DefaultAdminPassword string

	// Chat history
	MaxHistory            int
	CompressThreshold     int
	HistorySummaryEnabled bool
	SummaryPrompt         string
}

func Load() Config {
	host := os.Getenv("SERVER_HOST")
	if host == "" {
		host = "0.0.0.0:3000"
	}

	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	temperature := 0.7
	if v := os.Getenv("TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			temperature = f
		}
	}

	apiKey := os.Getenv("OPENAI_API_KEY")

	embeddingKey := os.Getenv("EMBEDDING_API_KEY")
	if embeddingKey == "" {
		embeddingKey = apiKey
	}
	embeddingURL := os.Getenv("EMBEDDING_BASE_URL")
	if embeddingURL == "" {
		embeddingURL = baseURL
	}
	embeddingModel := os.Getenv("EMBEDDING_MODEL")
	if embeddingModel == "" {
		embeddingModel = "text-embedding-ada-002"
	}

	topK := 3
	if v := os.Getenv("TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			topK = n
		}
	}

	collection := os.Getenv("QDRANT_COLLECTION")
	if collection == "" {
		collection = "documents"
	}

	preambleFile := os.Getenv("PREAMBLE_FILE")
	if preambleFile == "" {
		preambleFile = "data/preamble.md"
	}

	documentsDir := os.Getenv("DOCUMENTS_DIR")
	if documentsDir == "" {
		documentsDir = "data/documents"
	}

	userDB := os.Getenv("USER_DB_PATH")
	if userDB == "" {
		userDB = "data/users.db"
	}

	conversationDB := os.Getenv("CONVERSATION_DB_PATH")
	if conversationDB == "" {
		conversationDB = "data/conversations.db"
	}

	backupDir := os.Getenv("BACKUP_DIR")
	if backupDir == "" {
		backupDir = "data/backups"
	}

	backupKeep := 5
	if v := os.Getenv("BACKUP_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			backupKeep = n
		}
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	adminPassword := os.Getenv("DEFAULT_ADMIN_PASSWORD")
	if adminPassword == "" {
		adminPassword = "aaa111"
	}

	maxHistory := 10
	if v := os.Getenv("MAX_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxHistory = n
		}
	}

	compressThreshold := 5
	if v := os.Getenv("COMPRESS_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			compressThreshold = n
		}
	}

	summaryEnabled := true
	if v := os.Getenv("HISTORY_SUMMARY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			summaryEnabled = b
		}
	}

	summaryPrompt := os.Getenv("SUMMARY_PROMPT")
	if summaryPrompt == "" {
		summaryPrompt = "Summarize the following conversation concisely, preserving key information and context."
	}

	return Config{
		ServerHost: host,

		OpenAIAPIKey:  apiKey,
		OpenAIBaseURL: baseURL,
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		Temperature:   temperature,

		EmbeddingAPIKey:  embeddingKey,
		EmbeddingBaseURL: embeddingURL,
		EmbeddingModel:   embeddingModel,

		TopK: topK,

		QdrantURL:        os.Getenv("QDRANT_URL"),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantCollection: collection,

		PreambleFile:       preambleFile,
		DocumentsDir:       documentsDir,
		UserDBPath:         userDB,
		ConversationDBPath: conversationDB,
		BackupDir:          backupDir,
		BackupKeep:         backupKeep,

		JWTSecret:            secret,
		DefaultAdminPassword: adminPassword,

		MaxHistory:            maxHistory,
		CompressThreshold:     compressThreshold,
		HistorySummaryEnabled: summaryEnabled,
		SummaryPrompt:         summaryPrompt,
	}
}
