// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, messaging-channel credentials, AI provider keys,
// media delivery limits, queue tuning, and observability.
package config

import (
	"encoding/hex"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "wa-sales-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ChannelConfig holds credentials and endpoints for the WhatsApp Business
// graph API (the messaging channel provider).
type ChannelConfig struct {
	Token         string // WA_TOKEN (bearer for outbound calls)
	PhoneNumberID string // WA_PHONE_NUMBER_ID
	VerifyToken   string // WA_VERIFY_TOKEN (GET /webhook handshake)
	AppSecret     string // WA_APP_SECRET (HMAC over raw webhook body; empty disables validation)
	GraphBaseURL  string // WA_GRAPH_BASE_URL (default https://graph.facebook.com)
	GraphVersion  string // WA_GRAPH_VERSION (default v21.0)
}

// AIConfig enumerates the chat-completion providers in fallback order.
// Primary is an OpenAI-compatible endpoint (several keys may be supplied for
// rotation on rate limits); Secondary is Gemini; Tertiary is optional.
type AIConfig struct {
	PrimaryKeys    []string      // AI_PRIMARY_KEYS (comma-separated, rotated on 429)
	PrimaryBaseURL string        // AI_PRIMARY_BASE_URL
	PrimaryModel   string        // AI_PRIMARY_MODEL
	SecondaryKey   string        // AI_SECONDARY_KEY (Gemini)
	SecondaryModel string        // AI_SECONDARY_MODEL
	TertiaryKey    string        // AI_TERTIARY_KEY (optional OpenAI-compatible)
	TertiaryBase   string        // AI_TERTIARY_BASE_URL
	TertiaryModel  string        // AI_TERTIARY_MODEL
	CallTimeout    time.Duration // per-provider budget
	MaxTokens      int
	Temperature    float64
	ContextLimit   int // messages sent to a provider per turn
	HistoryLimit   int // messages retained per conversation
	CacheTTL       time.Duration
	CacheSize      int
	SystemPrompt   string // AI_SYSTEM_PROMPT or contents of AI_SYSTEM_PROMPT_FILE
}

// MediaConfig bounds the media delivery adapter.
type MediaConfig struct {
	AllowedDomains  []string      // MEDIA_ALLOWED_DOMAINS
	MaxDownloadSize int64         // hard cap on fetched bytes
	TargetSize      int64         // recompress until at or under this
	HardCap         int64         // never forward a buffer above this
	HandleTTL       time.Duration // media-id validity window (just under the channel's 24h)
	CacheSize       int
	WindowLimit     int           // outbound requests per rolling window
	Window          time.Duration // rolling window length
	MinInterval     time.Duration // minimum gap between outbound calls
	FetchTimeout    time.Duration
}

// SessionConfig bounds the process-wide per-customer state.
type SessionConfig struct {
	DedupTTL      time.Duration // recently-seen webhook message ids
	DedupSize     int
	SentImageTTL  time.Duration // per-customer sent-image ledger
	MemoryTTL     time.Duration // in-memory conversation fallback
	SenderMinGap  time.Duration // silent per-sender throttle
	SweepInterval time.Duration
}

// QueueConfig tunes the durable job queue workers.
type QueueConfig struct {
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration // base for exponential backoff
	PollInterval time.Duration
	JobTimeout   time.Duration
}

// DocumentsConfig holds static catalog document locators sent on request.
type DocumentsConfig struct {
	GeneralPDF string // DOC_CATALOG_GENERAL
	HorecaPDF  string // DOC_CATALOG_HORECA
	GiftingPDF string // DOC_CATALOG_GIFTING
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string

	// Logging / Docs
	LogLevel       string
	LogPretty      bool
	SwaggerEnabled bool

	// Store
	DBPath      string // SQLite path
	CatalogPath string // product catalog JSON

	// Webhook edge protection
	RateRPS   float64
	RateBurst int

	// Encryption key for message content at rest (hex, 32 bytes)
	EncryptionKey []byte

	// AdminToken gates operational endpoints; empty disables them.
	AdminToken string

	Channel   ChannelConfig
	AI        AIConfig
	Media     MediaConfig
	Session   SessionConfig
	Queue     QueueConfig
	Documents DocumentsConfig

	CORS     CORSConfig
	Security SecurityConfig
	OTEL     OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),

		DBPath:      getenv("DB_PATH", "app.db"),
		CatalogPath: getenv("CATALOG_PATH", "data/catalog.json"),

		RateRPS:   getfloat("RATE_RPS", 2.0),
		RateBurst: getint("RATE_BURST", 100),

		AdminToken: getenv("ADMIN_TOKEN", ""),

		Channel: ChannelConfig{
			Token:         getenv("WA_TOKEN", ""),
			PhoneNumberID: getenv("WA_PHONE_NUMBER_ID", ""),
			VerifyToken:   getenv("WA_VERIFY_TOKEN", ""),
			AppSecret:     getenv("WA_APP_SECRET", ""),
			GraphBaseURL:  strings.TrimRight(getenv("WA_GRAPH_BASE_URL", "https://graph.facebook.com"), "/"),
			GraphVersion:  getenv("WA_GRAPH_VERSION", "v21.0"),
		},

		AI: AIConfig{
			PrimaryKeys:    splitCSV(getenv("AI_PRIMARY_KEYS", "")),
			PrimaryBaseURL: getenv("AI_PRIMARY_BASE_URL", "https://api.groq.com/openai/v1"),
			PrimaryModel:   getenv("AI_PRIMARY_MODEL", "llama-3.3-70b-versatile"),
			SecondaryKey:   getenv("AI_SECONDARY_KEY", ""),
			SecondaryModel: getenv("AI_SECONDARY_MODEL", "gemini-2.0-flash-exp"),
			TertiaryKey:    getenv("AI_TERTIARY_KEY", ""),
			TertiaryBase:   getenv("AI_TERTIARY_BASE_URL", ""),
			TertiaryModel:  getenv("AI_TERTIARY_MODEL", ""),
			CallTimeout:    getdur("AI_CALL_TIMEOUT", 30*time.Second),
			MaxTokens:      getint("AI_MAX_TOKENS", 500),
			Temperature:    getfloat("AI_TEMPERATURE", 0.7),
			ContextLimit:   getint("AI_CONTEXT_LIMIT", 10),
			HistoryLimit:   getint("AI_HISTORY_LIMIT", 50),
			CacheTTL:       getdur("AI_CACHE_TTL", 3*time.Hour),
			CacheSize:      getint("AI_CACHE_SIZE", 1000),
			SystemPrompt:   loadSystemPrompt(),
		},

		Media: MediaConfig{
			AllowedDomains:  splitCSV(getenv("MEDIA_ALLOWED_DOMAINS", "")),
			MaxDownloadSize: getint64("MEDIA_MAX_DOWNLOAD_BYTES", 18<<20),
			TargetSize:      getint64("MEDIA_TARGET_BYTES", 5<<20),
			HardCap:         getint64("MEDIA_HARD_CAP_BYTES", 16<<20),
			HandleTTL:       getdur("MEDIA_HANDLE_TTL", 23*time.Hour),
			CacheSize:       getint("MEDIA_CACHE_SIZE", 1000),
			WindowLimit:     getint("MEDIA_WINDOW_LIMIT", 30),
			Window:          getdur("MEDIA_WINDOW", time.Minute),
			MinInterval:     getdur("MEDIA_MIN_INTERVAL", 100*time.Millisecond),
			FetchTimeout:    getdur("MEDIA_FETCH_TIMEOUT", 30*time.Second),
		},

		Session: SessionConfig{
			DedupTTL:      getdur("SESSION_DEDUP_TTL", 5*time.Minute),
			DedupSize:     getint("SESSION_DEDUP_SIZE", 1000),
			SentImageTTL:  getdur("SESSION_SENT_IMAGE_TTL", 24*time.Hour),
			MemoryTTL:     getdur("SESSION_MEMORY_TTL", time.Hour),
			SenderMinGap:  getdur("SESSION_SENDER_MIN_GAP", 500*time.Millisecond),
			SweepInterval: getdur("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},

		Queue: QueueConfig{
			Workers:      getint("QUEUE_WORKERS", 5),
			MaxAttempts:  getint("QUEUE_MAX_ATTEMPTS", 3),
			RetryBackoff: getdur("QUEUE_RETRY_BACKOFF", 2*time.Second),
			PollInterval: getdur("QUEUE_POLL_INTERVAL", 250*time.Millisecond),
			JobTimeout:   getdur("QUEUE_JOB_TIMEOUT", time.Minute),
		},

		Documents: DocumentsConfig{
			GeneralPDF: getenv("DOC_CATALOG_GENERAL", ""),
			HorecaPDF:  getenv("DOC_CATALOG_HORECA", ""),
			GiftingPDF: getenv("DOC_CATALOG_GIFTING", ""),
		},

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "wa-sales-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	if raw := getenv("ENCRYPTION_KEY", ""); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return cfg, errors.New("ENCRYPTION_KEY must be hex-encoded")
		}
		cfg.EncryptionKey = key
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.CatalogPath) == "" {
		return cfg, errors.New("CATALOG_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if len(cfg.EncryptionKey) != 0 && len(cfg.EncryptionKey) != 32 {
		return cfg, errors.New("ENCRYPTION_KEY must decode to 32 bytes")
	}
	if cfg.AI.CallTimeout <= 0 {
		return cfg, errors.New("AI_CALL_TIMEOUT must be > 0")
	}
	if cfg.AI.ContextLimit < 1 {
		return cfg, errors.New("AI_CONTEXT_LIMIT must be >= 1")
	}
	if cfg.AI.HistoryLimit < cfg.AI.ContextLimit {
		return cfg, errors.New("AI_HISTORY_LIMIT must be >= AI_CONTEXT_LIMIT")
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		return cfg, errors.New("AI_TEMPERATURE must be in [0,2]")
	}
	if cfg.Media.TargetSize > cfg.Media.HardCap {
		return cfg, errors.New("MEDIA_TARGET_BYTES must be <= MEDIA_HARD_CAP_BYTES")
	}
	if cfg.Media.WindowLimit < 1 || cfg.Media.Window <= 0 {
		return cfg, errors.New("media window settings must be positive")
	}
	if cfg.Session.SenderMinGap < 0 {
		return cfg, errors.New("SESSION_SENDER_MIN_GAP must be >= 0")
	}
	if cfg.Queue.Workers < 1 {
		return cfg, errors.New("QUEUE_WORKERS must be >= 1")
	}
	if cfg.Queue.MaxAttempts < 1 {
		return cfg, errors.New("QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// RequireChannel validates the channel credentials needed to serve webhooks.
// Kept separate from Load so tests and offline tooling can construct a Config
// without production secrets.
func (c Config) RequireChannel() error {
	var missing []string
	if c.Channel.Token == "" {
		missing = append(missing, "WA_TOKEN")
	}
	if c.Channel.PhoneNumberID == "" {
		missing = append(missing, "WA_PHONE_NUMBER_ID")
	}
	if c.Channel.VerifyToken == "" {
		missing = append(missing, "WA_VERIFY_TOKEN")
	}
	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}
	return nil
}

// loadSystemPrompt prefers the inline AI_SYSTEM_PROMPT, then a file path.
// The prompt text is opaque configuration; an empty value is allowed and the
// provider manager substitutes a minimal instruction.
func loadSystemPrompt() string {
	if v := getenv("AI_SYSTEM_PROMPT", ""); v != "" {
		return v
	}
	if p := getenv("AI_SYSTEM_PROMPT_FILE", ""); p != "" {
		if b, err := os.ReadFile(p); err == nil {
			return string(b)
		}
	}
	return ""
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
