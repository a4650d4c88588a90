package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider selects the langchaingo backend used for completions or embeddings.
type Provider string

const (
	// ProviderOpenAI covers any OpenAI-compatible endpoint (ModelScope included).
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// Neo4j graph store
	Neo4jURI           string
	Neo4jUser          string
	Neo4jPassword      string
	Neo4jDatabase      string
	Neo4jMultiDatabase bool
	Neo4jMaxPoolSize   int

	// SurrealDB chunk store (database is chosen per db_name)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Completion provider
	LLMProvider    Provider
	LLMModel       string
	LLMBaseURL     string
	LLMAPIKey      string
	LLMTemperature float64
	LLMTopP        float64
	LLMMaxRetries  int

	// Embedding provider
	EmbedProvider  Provider
	EmbedModel     string
	EmbedDimension int

	OllamaHost      string
	AnthropicAPIKey string
	AWSRegion       string

	// Indexing
	WorkingDir         string
	DefaultDBName      string
	IndexWorkers       int
	ExtractConcurrency int
	IndexBuildTimeout  time.Duration

	// Competency paths
	RootLevel string

	// HTTP server
	Port        string
	CORSOrigins []string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
// Defaults match the original ModelScope deployment.
func Load() Config {
	return Config{
		Neo4jURI:           getEnv("NEO4J_URI", "neo4j://127.0.0.1:7687"),
		Neo4jUser:          getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:      getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase:      getEnv("NEO4J_DATABASE", "neo4j"),
		Neo4jMultiDatabase: getEnvBool("NEO4J_MULTI_DATABASE", false),
		Neo4jMaxPoolSize:   getEnvInt("NEO4J_MAX_POOL_SIZE", 50),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "kgtutor"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider:    Provider(strings.ToLower(getEnv("KGTUTOR_LLM_PROVIDER", string(ProviderOpenAI)))),
		LLMModel:       getEnv("KGTUTOR_LLM_MODEL", getEnv("MS_MODEL", "Qwen/Qwen3-32B")),
		LLMBaseURL:     strings.TrimRight(getEnv("KGTUTOR_LLM_BASE_URL", getEnv("MS_BASE_URL", "https://api-inference.modelscope.cn/v1")), "/"),
		LLMAPIKey:      getEnv("KGTUTOR_LLM_API_KEY", getEnv("MS_API_KEY", "")),
		LLMTemperature: getEnvFloat("KGTUTOR_LLM_TEMPERATURE", 0.3),
		LLMTopP:        getEnvFloat("KGTUTOR_LLM_TOP_P", 0.9),
		LLMMaxRetries:  getEnvInt("KGTUTOR_LLM_MAX_RETRIES", 2),

		EmbedProvider:  Provider(strings.ToLower(getEnv("KGTUTOR_EMBED_PROVIDER", string(ProviderOpenAI)))),
		EmbedModel:     getEnv("KGTUTOR_EMBED_MODEL", "text-embedding-v1"),
		EmbedDimension: getEnvInt("KGTUTOR_EMBED_DIMENSION", 1536),

		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		WorkingDir:         getEnv("KGTUTOR_WORKING_DIR", "./rag_data"),
		DefaultDBName:      getEnv("KGTUTOR_DEFAULT_DB", "neo4j"),
		IndexWorkers:       getEnvInt("KGTUTOR_INDEX_WORKERS", 4),
		ExtractConcurrency: getEnvInt("KGTUTOR_EXTRACT_CONCURRENCY", 4),
		IndexBuildTimeout:  getEnvDuration("KGTUTOR_INDEX_BUILD_TIMEOUT", 30*time.Second),

		RootLevel: getEnv("KGTUTOR_ROOT_LEVEL", "1"),

		Port:        getEnv("KGTUTOR_PORT", getEnv("LLM_PORT", "8001")),
		CORSOrigins: splitList(getEnv("KGTUTOR_CORS_ORIGINS", "*")),

		LogFile:  getEnv("KGTUTOR_LOG_FILE", "/tmp/kgtutor.log"),
		LogLevel: parseLogLevel(getEnv("KGTUTOR_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
