package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config collects every tunable the server needs. Values come from the
// environment so main stays lean; defaults are development-friendly.
type Config struct {
	// HTTP
	Addr string

	// Challenge issuing
	ChallengeTTL             time.Duration
	MaxOutstandingChallenges int

	// Verification policy
	SessionTTL         time.Duration
	ScoreThreshold     float64
	AcceptOnTimeout    bool // recognition timeout with a passing assertion still verifies (reduced assurance)
	ExpectedOrigin     string
	RecognitionURL     string
	RecognitionToken   string
	RecognitionTimeout time.Duration

	// Attestation
	ConfirmInterval       time.Duration
	ConfirmAttempts       int
	RequiredConfirmations uint64

	// Ledger
	LedgerRPCURL        string
	LedgerChainID       int64
	LedgerPrivateKeyHex string
	LedgerContractAddr  string

	// Backing stores (empty URL selects the in-memory implementation)
	PostgresURL string
	RedisURL    string

	// Audit
	KafkaBrokers string
	AuditTopic   string
}

func Load() Config {
	return Config{
		Addr: getenv("BIOPASS_ADDR", ":8080"),

		ChallengeTTL:             getdur("CHALLENGE_TTL", 120*time.Second),
		MaxOutstandingChallenges: getint("MAX_OUTSTANDING_CHALLENGES", 5),

		SessionTTL:         getdur("SESSION_TTL", 60*time.Second),
		ScoreThreshold:     getfloat("RECOGNITION_SCORE_THRESHOLD", 0.85),
		AcceptOnTimeout:    getbool("ACCEPT_ON_RECOGNITION_TIMEOUT", true),
		ExpectedOrigin:     getenv("EXPECTED_ORIGIN", "https://app.biopass.local"),
		RecognitionURL:     getenv("RECOGNITION_URL", "http://localhost:9090/v1/recognize"),
		RecognitionToken:   os.Getenv("RECOGNITION_TOKEN"),
		RecognitionTimeout: getdur("RECOGNITION_TIMEOUT", 8*time.Second),

		ConfirmInterval:       getdur("ATTESTATION_CONFIRM_INTERVAL", 5*time.Second),
		ConfirmAttempts:       getint("ATTESTATION_CONFIRM_ATTEMPTS", 10),
		RequiredConfirmations: uint64(getint("ATTESTATION_REQUIRED_CONFIRMATIONS", 3)),

		LedgerRPCURL:        getenv("LEDGER_RPC_URL", ""),
		LedgerChainID:       int64(getint("LEDGER_CHAIN_ID", 11155111)),
		LedgerPrivateKeyHex: os.Getenv("LEDGER_PRIVATE_KEY"),
		LedgerContractAddr:  os.Getenv("LEDGER_CONTRACT_ADDR"),

		PostgresURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		AuditTopic:   getenv("AUDIT_TOPIC", "biopass.audit.events"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("invalid int, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("invalid float, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration, using default", "key", k, "value", v, "default", def)
	}
	return def
}
