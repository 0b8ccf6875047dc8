package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Tuning knobs for the matchmaking core. These are deliberately constants,
// not env vars: changing them is a code decision, not a deployment one.
const (
	// Presence
	HeartbeatPeriod  = 90 * time.Second
	HeartbeatTTL     = 3 * HeartbeatPeriod // missed beats past this read as offline
	PresenceDebounce = time.Second         // collapses visibility-change bursts

	// Matchmaking
	MatchScanAttempts = 3
	MatchScanBackoff  = 150 * time.Millisecond

	// Session creation
	SessionRetryAttempts = 3
	SessionRetryBase     = 100 * time.Millisecond

	// Skip: wait before re-queueing so the ex-partner sees the end first and
	// an immediate re-match with them is unlikely.
	SkipRequeueDelay = 300 * time.Millisecond

	// Analysis cadence: fire the analysis collaborator every N persisted
	// messages per session.
	AnalysisEveryN = 3

	// Rate limiting
	QueueJoinsPerMinute = 30

	// Remote call budget
	OpTimeout = 5 * time.Second
)

// Config holds everything read from the environment.
type Config struct {
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	HTTPAddr      string
	JWTSecret     string
	TelegramToken string // optional; empty disables the Telegram transport
}

// Load reads .env (when present) and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: no .env file loaded")
	}

	return &Config{
		PostgresDSN:   getenv("POSTGRES_DSN", "host=localhost user=user password=password dbname=anonpair port=5432 sslmode=disable"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		JWTSecret:     getenv("JWT_SECRET", "dev-only-secret"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
