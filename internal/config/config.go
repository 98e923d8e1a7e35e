package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int

	// LINE Messaging API
	LineChannelAccessToken string
	LineChannelSecret      string
	LineAPIBaseURL         string
	LineDataAPIBaseURL     string

	// Approval flow
	ApprovalGroupID   string
	AutoSendStart     string // "HH:MM", empty disables the auto-send window
	AutoSendEnd       string
	ApprovalTTL       time.Duration
	AwaitingReplyTTL  time.Duration
	RecentOrderWindow time.Duration
	OrderLookupWindow time.Duration

	// Delayed-send (secondary path; ignored when ApprovalGroupID is set)
	DelayedResponseEnabled bool
	ResponseDelay          time.Duration

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// SQS queues
	FileTaskQueueURL    string
	DelayedSendQueueURL string

	// DynamoDB tables
	OrdersTable        string
	ApprovalsTable     string
	ClientsTable       string
	UserMappingTable   string
	NotesTable         string
	RevisionsTable     string
	DelayedSendTable   string
	RegistrationsTable string

	// Redis (message buffer, awaiting-reply window, greeting state)
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// AI endpoints
	GeminiAPIKey   string
	GeminiModelID  string
	BedrockModelID string
	AITimeout      time.Duration

	// Google Drive / Calendar
	GoogleCredentialsJSON string
	DriveRootFolderID     string
	CalendarID            string

	// Operator notifications
	SlackWebhookURL string
	SESFromEmail    string
	SESFromName     string
	NotifyEmails    string // comma-separated

	// Revision training-data archive
	RevisionArchiveBucket string

	// Admin endpoints
	AdminJWTSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),

		LineChannelAccessToken: getEnv("LINE_CHANNEL_ACCESS_TOKEN", ""),
		LineChannelSecret:      getEnv("LINE_CHANNEL_SECRET", ""),
		LineAPIBaseURL:         getEnv("LINE_API_BASE_URL", "https://api.line.me"),
		LineDataAPIBaseURL:     getEnv("LINE_DATA_API_BASE_URL", "https://api-data.line.me"),

		ApprovalGroupID:   getEnv("APPROVAL_GROUP_ID", ""),
		AutoSendStart:     getEnv("AUTO_SEND_START", ""),
		AutoSendEnd:       getEnv("AUTO_SEND_END", ""),
		ApprovalTTL:       getEnvAsDuration("APPROVAL_TTL", 24*time.Hour),
		AwaitingReplyTTL:  getEnvAsDuration("AWAITING_REPLY_TTL", 10*time.Minute),
		RecentOrderWindow: getEnvAsDuration("RECENT_ORDER_WINDOW", 30*time.Minute),
		OrderLookupWindow: getEnvAsDuration("ORDER_LOOKUP_WINDOW", 60*time.Minute),

		DelayedResponseEnabled: getEnvAsBool("ENABLE_DELAYED_RESPONSE", false),
		ResponseDelay:          getEnvAsDuration("RESPONSE_DELAY", 60*time.Second),

		AWSRegion:           getEnv("AWS_REGION", "ap-northeast-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		FileTaskQueueURL:    getEnv("FILE_TASK_QUEUE_URL", ""),
		DelayedSendQueueURL: getEnv("DELAYED_SEND_QUEUE_URL", ""),

		OrdersTable:        getEnv("ORDERS_TABLE", "ai_secretary_orders"),
		ApprovalsTable:     getEnv("APPROVALS_TABLE", "ai_secretary_pending_messages"),
		ClientsTable:       getEnv("CLIENTS_TABLE", "ai_secretary_clients"),
		UserMappingTable:   getEnv("USER_MAPPING_TABLE", "ai_secretary_user_mapping"),
		NotesTable:         getEnv("NOTES_TABLE", "ai_secretary_notes"),
		RevisionsTable:     getEnv("REVISIONS_TABLE", "ai_secretary_revision_history"),
		DelayedSendTable:   getEnv("DELAYED_SEND_TABLE", "ai_secretary_delayed_replies"),
		RegistrationsTable: getEnv("REGISTRATIONS_TABLE", "ai_secretary_registrations"),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		AITimeout:      getEnvAsDuration("AI_TIMEOUT", 25*time.Second),

		GoogleCredentialsJSON: getEnv("GOOGLE_SERVICE_ACCOUNT", ""),
		DriveRootFolderID:     getEnv("GOOGLE_DRIVE_FOLDER_ID", ""),
		CalendarID:            getEnv("GOOGLE_CALENDAR_ID", ""),

		SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
		SESFromEmail:    getEnv("SES_FROM_EMAIL", ""),
		SESFromName:     getEnv("SES_FROM_NAME", "AI秘書"),
		NotifyEmails:    getEnv("NOTIFY_EMAILS", ""),

		RevisionArchiveBucket: getEnv("REVISION_ARCHIVE_BUCKET", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
