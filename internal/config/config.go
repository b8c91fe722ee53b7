package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string
	ServerHost string

	// Per-document git repositories live under this directory.
	RepoDataDir string

	// Compile engine: "daemon" posts to CompilerURL, "local" shells out to
	// the per-doc-type commands below.
	CompileEngine      string
	CompilerURL        string
	CompileWorkDir     string
	CompileLatexCmd    string
	CompileMarkdownCmd string

	// Compile worker pool configuration
	CompileWorkers   int
	CompileQueueSize int

	// Collaboration timing knobs. Defaults match the editor UX; tests and
	// operators can shrink or stretch them.
	BroadcastDebounce time.Duration
	PreviewDebounce   time.Duration
	PersistDebounce   time.Duration
	PresenceTimeout   time.Duration
	LockTimeout       time.Duration

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "coauthor"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		RepoDataDir: getEnv("REPO_DATA_DIR", "./data/repos"),

		CompileEngine:      getEnv("COMPILE_ENGINE", "daemon"),
		CompilerURL:        getEnv("COMPILER_URL", "http://localhost:9090"),
		CompileWorkDir:     getEnv("COMPILE_WORK_DIR", "./data/builds"),
		CompileLatexCmd:    getEnv("COMPILE_LATEX_CMD", "latexmk -pdf -interaction=nonstopmode"),
		CompileMarkdownCmd: getEnv("COMPILE_MARKDOWN_CMD", "pandoc -s -o source.html"),

		CompileWorkers:   getEnvInt("COMPILE_WORKERS", 3),
		CompileQueueSize: getEnvInt("COMPILE_QUEUE_SIZE", 64),

		BroadcastDebounce: getEnvDuration("BROADCAST_DEBOUNCE", 500*time.Millisecond),
		PreviewDebounce:   getEnvDuration("PREVIEW_DEBOUNCE", 2*time.Second),
		PersistDebounce:   getEnvDuration("PERSIST_DEBOUNCE", 5*time.Second),
		PresenceTimeout:   getEnvDuration("PRESENCE_TIMEOUT", 5*time.Minute),
		LockTimeout:       getEnvDuration("LOCK_TIMEOUT", 5*time.Minute),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if cfg.RepoDataDir == "" {
		return nil, fmt.Errorf("REPO_DATA_DIR must not be empty")
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if n, err := fmt.Sscanf(value, "%d", &result); err == nil && n == 1 {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
