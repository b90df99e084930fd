package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"msgvault-backend/internal/shared/telemetry"
)

// Store backends.
const (
	ObjectStoreLocal = "local"
	ObjectStoreS3    = "s3"

	MetadataMemory   = "memory"
	MetadataPostgres = "postgres"
	MetadataDynamoDB = "dynamodb"
	MetadataMongo    = "mongo"

	QueueSQS  = "sqs"
	QueueNATS = "nats"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string

	ObjectStoreType string
	LocalStoreDir   string
	PublicBaseURL   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	S3Endpoint      string
	SSEKMSKeyID     string
	SignedURLTTL    time.Duration

	MetadataStore           string
	DatabaseURL             string
	DynamoEndpoint          string
	DynamoMessagesTable     string
	DynamoAssociationsTable string
	MongoURI                string
	MongoDatabase           string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AdminUsernames     []string
	UnassociatedPolicy string
	MaxPayloadBytes    int64

	JWTSecret string
	BotAPIKey string

	QueueBackend      string
	SQSQueueURL       string
	NATSURL           string
	NATSSubject       string
	NATSQueueGroup    string
	NATSStream        string
	WorkerConcurrency int

	RateLimitRPS    float64
	RateLimitBurst  int
	ShutdownTimeout time.Duration
}

var defaults = map[string]any{
	"PORT":                        "8080",
	"ENV":                         "dev",
	"CORS_ALLOW_ORIGINS":          "http://localhost:5173",
	"OBJECT_STORE":                ObjectStoreLocal,
	"LOCAL_STORE_DIR":             "./data",
	"AWS_REGION":                  "us-east-1",
	"PUBLIC_BASE_URL":             "http://localhost:8080",
	"SIGNED_URL_TTL":              "1h",
	"METADATA_STORE":              "",
	"DYNAMODB_MESSAGES_TABLE":     "messages",
	"DYNAMODB_ASSOCIATIONS_TABLE": "phone_associations",
	"MONGO_DATABASE":              "msgvault",
	"REDIS_DB":                    0,
	"ADMIN_USERNAMES":             "admin",
	"ACCESS_UNASSOCIATED_POLICY":  "deny",
	"MAX_PAYLOAD_BYTES":           16 << 20,
	"QUEUE_BACKEND":               QueueSQS,
	"NATS_URL":                    "nats://localhost:4222",
	"NATS_SUBJECT":                "msgvault.inbound",
	"NATS_QUEUE_GROUP":            "msgvault-ingest",
	"NATS_STREAM":                 "MSGVAULT_INBOUND",
	"WORKER_CONCURRENCY":          4,
	"RATE_LIMIT_RPS":              5.0,
	"RATE_LIMIT_BURST":            20,
	"SHUTDOWN_TIMEOUT":            "15s",
}

// Load reads configuration from environment variables with sensible defaults.
// An optional YAML file named by CONFIG_FILE supplies values the environment leaves unset.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			telemetry.Warn("config.file_unreadable", map[string]any{"path": path, "error": err.Error()})
		}
	}
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) Config {
	env := normalizeEnv(v.GetString("ENV"))
	cfg := Config{
		Port:            v.GetString("PORT"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(v.GetString("CORS_ALLOW_ORIGINS")),

		ObjectStoreType: normalizeStoreType(v.GetString("OBJECT_STORE")),
		LocalStoreDir:   v.GetString("LOCAL_STORE_DIR"),
		PublicBaseURL:   strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		AWSRegion:       v.GetString("AWS_REGION"),
		S3Bucket:        v.GetString("S3_BUCKET"),
		S3Prefix:        v.GetString("S3_PREFIX"),
		S3Endpoint:      v.GetString("S3_ENDPOINT"),
		SSEKMSKeyID:     v.GetString("SSE_KMS_KEY_ID"),
		SignedURLTTL:    positiveDuration(v.GetDuration("SIGNED_URL_TTL"), time.Hour),

		DatabaseURL:             v.GetString("DATABASE_URL"),
		DynamoEndpoint:          v.GetString("DYNAMODB_ENDPOINT"),
		DynamoMessagesTable:     v.GetString("DYNAMODB_MESSAGES_TABLE"),
		DynamoAssociationsTable: v.GetString("DYNAMODB_ASSOCIATIONS_TABLE"),
		MongoURI:                v.GetString("MONGO_URI"),
		MongoDatabase:           v.GetString("MONGO_DATABASE"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		AdminUsernames:     splitAndTrim(v.GetString("ADMIN_USERNAMES")),
		UnassociatedPolicy: normalizePolicy(v.GetString("ACCESS_UNASSOCIATED_POLICY")),
		MaxPayloadBytes:    v.GetInt64("MAX_PAYLOAD_BYTES"),

		JWTSecret: v.GetString("JWT_SECRET"),
		BotAPIKey: v.GetString("BOT_API_KEY"),

		QueueBackend:      normalizeQueue(v.GetString("QUEUE_BACKEND")),
		SQSQueueURL:       v.GetString("SQS_QUEUE_URL"),
		NATSURL:           v.GetString("NATS_URL"),
		NATSSubject:       v.GetString("NATS_SUBJECT"),
		NATSQueueGroup:    v.GetString("NATS_QUEUE_GROUP"),
		NATSStream:        v.GetString("NATS_STREAM"),
		WorkerConcurrency: v.GetInt("WORKER_CONCURRENCY"),

		RateLimitRPS:    v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:  v.GetInt("RATE_LIMIT_BURST"),
		ShutdownTimeout: positiveDuration(v.GetDuration("SHUTDOWN_TIMEOUT"), 15*time.Second),
	}
	cfg.MetadataStore = normalizeMetadataStore(v.GetString("METADATA_STORE"), cfg.DatabaseURL)

	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 16 << 20
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}
	if env == "production" {
		if cfg.JWTSecret == "" {
			telemetry.Warn("config.missing", map[string]any{"key": "JWT_SECRET"})
		}
		if cfg.MetadataStore == MetadataMemory {
			telemetry.Warn("config.memory_store_in_production", nil)
		}
	}
	return cfg
}

// IsDevLike reports whether env relaxes production requirements.
func IsDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return ObjectStoreS3
	default:
		return ObjectStoreLocal
	}
}

// An explicit METADATA_STORE wins; otherwise DATABASE_URL implies postgres.
func normalizeMetadataStore(raw, dbURL string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg", "postgresql":
		return MetadataPostgres
	case "dynamodb", "dynamo":
		return MetadataDynamoDB
	case "mongo", "mongodb":
		return MetadataMongo
	case "memory":
		return MetadataMemory
	}
	if strings.TrimSpace(dbURL) != "" {
		return MetadataPostgres
	}
	return MetadataMemory
}

func normalizePolicy(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), "allow") {
		return "allow"
	}
	return "deny"
}

func normalizeQueue(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), QueueNATS) {
		return QueueNATS
	}
	return QueueSQS
}

func positiveDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
