package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Default CORS origins cover local dashboard development. Production
// deployments override the whole list via PARLEY_ALLOWED_ORIGINS.
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8080",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:8080",
}

// Config holds process-wide configuration assembled once at startup.
type Config struct {
	ServerAddr     string
	HTTP3Addr      string
	TLSCertFile    string
	TLSKeyFile     string
	Workdir        string
	AllowedOrigins []string

	JWTSecret  string
	APIKeyHash string

	WSMaxMessageSize int64
	MaxPayloadBytes  int

	DBTimeout time.Duration

	APICallTimeout time.Duration
	CLICallTimeout time.Duration

	EloKFactor      float64
	CacheMaxEntries int

	AudienceRatePerMinute float64
	AudienceBurst         int

	OpenAIKey    string
	AnthropicKey string
}

// Load reads configuration from the environment with defaults.
func Load() Config {
	return Config{
		ServerAddr:     EnvStr("PARLEY_SERVER_ADDR", ":8080"),
		HTTP3Addr:      EnvStr("PARLEY_HTTP3_ADDR", ""),
		TLSCertFile:    EnvStr("PARLEY_TLS_CERT", ""),
		TLSKeyFile:     EnvStr("PARLEY_TLS_KEY", ""),
		Workdir:        EnvStr("PARLEY_WORKDIR", ".parley"),
		AllowedOrigins: EnvList("PARLEY_ALLOWED_ORIGINS", defaultAllowedOrigins),

		JWTSecret:  EnvStr("PARLEY_JWT_SECRET", ""),
		APIKeyHash: EnvStr("PARLEY_API_KEY_HASH", ""),

		WSMaxMessageSize: int64(EnvInt("PARLEY_WS_MAX_SIZE", 65536)),
		MaxPayloadBytes:  EnvInt("PARLEY_MAX_PAYLOAD_BYTES", 10240),

		DBTimeout: EnvDuration("DB_TIMEOUT_SECONDS", 30*time.Second),

		APICallTimeout: EnvDuration("PARLEY_API_TIMEOUT_SECONDS", 120*time.Second),
		CLICallTimeout: EnvDuration("PARLEY_CLI_TIMEOUT_SECONDS", 300*time.Second),

		EloKFactor:      EnvFloat("PARLEY_ELO_K_FACTOR", 32),
		CacheMaxEntries: EnvInt("PARLEY_CACHE_MAX_ENTRIES", 1000),

		AudienceRatePerMinute: EnvFloat("PARLEY_AUDIENCE_RATE_PER_MINUTE", 10),
		AudienceBurst:         EnvInt("PARLEY_AUDIENCE_BURST", 5),

		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicKey: os.Getenv("ANTHROPIC_API_KEY"),
	}
}

// EnvStr returns the value of the variable or the default when unset/empty.
func EnvStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// EnvInt parses an integer variable, falling back to the default on
// missing or malformed values.
func EnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// EnvFloat parses a float variable with a default.
func EnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// EnvBool parses a boolean variable. Accepts 1/0, true/false, yes/no, on/off.
func EnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// EnvDuration parses a variable given in whole seconds.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// EnvList parses a comma-separated variable, trimming blanks.
func EnvList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
