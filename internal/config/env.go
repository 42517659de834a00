package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL    string
	DBDriver       string
	SslCertPath    string
	StorageBackend string
	AwsAccessKey   string
	AwsSecretKey   string
	AwsRegion      string
	BucketName     string
	GCSBucketName  string
	EmbedProvider  string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	AIAPIKey       string
	EmbedModel     string
	EmbedDim       int
	EmbedBatchSize int
	ChunkSize      int
	ChunkOverlap   int
	MatchThreshold float64
	MatchCount     int
	IngestWorkers  int
	ProcessTimeout time.Duration
	MaxUploadBytes int64
	Port           string
	JWTSecret      string
	CORSOrigins    []string
	LogMode        string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	provider := strings.ToLower(getEnv("EMBED_PROVIDER", "openai"))
	model := getEnv("EMBED_MODEL", "")
	if model == "" {
		model = defaultEmbedModel(provider)
	}

	cfg := &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBDriver:       strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		SslCertPath:    getEnv("SSL_CERT_PATH", ""),
		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "s3")),
		AwsAccessKey:   getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:   getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:      getEnv("AWS_REGION", "us-east-2"),
		BucketName:     getEnv("BUCKET_NAME", "contexta-docs"),
		GCSBucketName:  getEnv("GCS_BUCKET_NAME", ""),
		EmbedProvider:  provider,
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AIAPIKey:       getEnv("GEMINI_API_KEY", ""),
		EmbedModel:     model,
		EmbedDim:       getEnvInt("EMBED_DIM", defaultEmbedDim(model)),
		EmbedBatchSize: getEnvInt("EMBED_BATCH_SIZE", 100),
		ChunkSize:      getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:   getEnvInt("CHUNK_OVERLAP", 0),
		MatchThreshold: getEnvFloat("MATCH_THRESHOLD", 0.7),
		MatchCount:     getEnvInt("MATCH_COUNT", 5),
		IngestWorkers:  getEnvInt("INGEST_WORKERS", 2),
		ProcessTimeout: time.Duration(getEnvInt("PROCESS_TIMEOUT_SECONDS", 300)) * time.Second,
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_MB", 50)) << 20,
		Port:           getEnv("PORT", "8080"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		LogMode:        getEnv("LOG_MODE", "dev"),
	}

	return cfg
}

// maxIndexedDim is the widest vector the pgvector HNSW index accepts.
const maxIndexedDim = 2000

type embedModel struct {
	dim int
	// shortenable models return fewer dimensions on request.
	shortenable bool
}

var embedModels = map[string]embedModel{
	"text-embedding-3-small": {dim: 1536, shortenable: true},
	"text-embedding-3-large": {dim: 3072, shortenable: true},
	"text-embedding-ada-002": {dim: 1536},
	"text-embedding-004":     {dim: 768},
	"embedding-001":          {dim: 768},
	"gemini-embedding-001":   {dim: 3072},
}

func defaultEmbedModel(provider string) string {
	if provider == "gemini" {
		return "text-embedding-004"
	}
	return "text-embedding-3-small"
}

// defaultEmbedDim is the native width of fixed-size models and 1536 otherwise.
func defaultEmbedDim(model string) int {
	if m, ok := lookupEmbedModel(model); ok && !m.shortenable {
		return m.dim
	}
	return 1536
}

func lookupEmbedModel(name string) (embedModel, bool) {
	m, ok := embedModels[strings.TrimPrefix(name, "models/")]
	return m, ok
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL not set"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q must be postgres or memory", c.DBDriver))
	}

	switch c.StorageBackend {
	case "s3":
		if c.AwsAccessKey == "" || c.AwsSecretKey == "" {
			errs = append(errs, errors.New("AWS credentials not set"))
		}
		if c.BucketName == "" {
			errs = append(errs, errors.New("BUCKET_NAME not set"))
		}
	case "gcs":
		if c.GCSBucketName == "" {
			errs = append(errs, errors.New("GCS_BUCKET_NAME not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND %q must be s3 or gcs", c.StorageBackend))
	}

	switch c.EmbedProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY not set"))
		}
	case "gemini":
		if c.AIAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("EMBED_PROVIDER %q must be openai or gemini", c.EmbedProvider))
	}

	model := c.EmbedModel
	if model == "" {
		model = defaultEmbedModel(c.EmbedProvider)
	}
	if c.EmbedDim <= 0 {
		errs = append(errs, errors.New("EMBED_DIM must be positive"))
	} else if m, ok := lookupEmbedModel(model); ok {
		switch {
		case m.shortenable && c.EmbedDim > m.dim:
			errs = append(errs, fmt.Errorf("EMBED_DIM %d exceeds the %d dimensions of %s", c.EmbedDim, m.dim, model))
		case !m.shortenable && c.EmbedDim != m.dim:
			errs = append(errs, fmt.Errorf("EMBED_MODEL %s returns %d-dimension vectors, EMBED_DIM is %d", model, m.dim, c.EmbedDim))
		}
	}
	if c.DBDriver == "postgres" && c.EmbedDim > maxIndexedDim {
		errs = append(errs, fmt.Errorf("EMBED_DIM %d exceeds the %d dimensions the vector index supports", c.EmbedDim, maxIndexedDim))
	}
	if c.MatchThreshold < -1 || c.MatchThreshold > 1 {
		errs = append(errs, errors.New("MATCH_THRESHOLD must be in [-1, 1]"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, errors.New("CHUNK_SIZE must be positive"))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, errors.New("CHUNK_OVERLAP must be in [0, CHUNK_SIZE)"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET not set"))
	}

	return errors.Join(errs...)
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %g", key, v, def)
		return def
	}
	return f
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
