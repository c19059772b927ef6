// Package config provides environment configuration for the relay server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
//
// Values are resolved in three layers: built-in defaults, then the YAML
// file named by CONFIG_FILE (if any), then environment variables.
type Config struct {
	// Server settings
	ServerPort         string        `yaml:"port"`
	ServerReadTimeout  time.Duration `yaml:"server_read_timeout"`
	ServerWriteTimeout time.Duration `yaml:"server_write_timeout"`
	Env                string        `yaml:"env"`

	// Storage settings
	StorageBackend string `yaml:"storage_backend"` // memory, sqlite or nats
	SQLitePath     string `yaml:"sqlite_path"`

	// NATS settings
	NATSURL      string `yaml:"nats_url"`
	NATSCAFile   string `yaml:"nats_ca_file"`
	NATSCertFile string `yaml:"nats_cert_file"`
	NATSKeyFile  string `yaml:"nats_key_file"`
	NATSToken    string `yaml:"nats_token"`

	// Generative backend settings
	Backend         string `yaml:"backend"` // responses or chat
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	OpenAIModel     string `yaml:"openai_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	Describer       string `yaml:"describer"` // openai or anthropic
	VisionModel     string `yaml:"vision_model"`

	// Messaging gateway
	WhapiURL   string `yaml:"whapi_url"`
	WhapiToken string `yaml:"whapi_token"`

	// Assistant behavior
	AssistantName            string        `yaml:"assistant_name"`
	MentionToken             string        `yaml:"mention_token"`
	SelfMentions             []string      `yaml:"self_mentions"`
	SilencePhrases           []string      `yaml:"silence_phrases"`
	PausePhrases             []string      `yaml:"pause_phrases"`
	ResumePhrases            []string      `yaml:"resume_phrases"`
	PauseReaction            string        `yaml:"pause_reaction"`
	PauseText                string        `yaml:"pause_text"`
	HistoryLimit             int           `yaml:"history_limit"`
	MaxToolRounds            int           `yaml:"max_tool_rounds"`
	BackendTimeout           time.Duration `yaml:"backend_timeout"`
	EventTimeout             time.Duration `yaml:"event_timeout"`
	ParticipantTTL           time.Duration `yaml:"participant_ttl"`
	GroupDefaultParticipants int           `yaml:"group_default_participants"`

	// Prompt strings
	DirectPrompt   string `yaml:"direct_prompt"`
	GroupPrompt    string `yaml:"group_prompt"`
	PausedPrompt   string `yaml:"paused_prompt"`
	GreetingPrompt string `yaml:"greeting_prompt"`

	// Debug surface
	DebugJWTSecret string `yaml:"debug_jwt_secret"`

	// Rate limiting
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	CORSOrigins       []string      `yaml:"cors_origins"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Tracing
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerPort:         "8080",
		ServerReadTimeout:  30 * time.Second,
		ServerWriteTimeout: 120 * time.Second,
		Env:                "production",

		StorageBackend: "memory",
		SQLitePath:     "relay.db",

		NATSURL: "nats://localhost:4222",

		Backend:     "responses",
		OpenAIModel: "gpt-4.1-mini",
		Describer:   "openai",
		VisionModel: "gpt-4o-mini",

		WhapiURL: "https://gate.whapi.cloud",

		AssistantName:            "Assistant",
		MentionToken:             "@assistant",
		SilencePhrases:           []string{"no reply"},
		PausePhrases:             []string{"pausing"},
		ResumePhrases:            []string{"resume", "come back"},
		PauseReaction:            "👍",
		PauseText:                "Pausing. Mention me when you need me.",
		HistoryLimit:             20,
		MaxToolRounds:            8,
		BackendTimeout:           45 * time.Second,
		EventTimeout:             2 * time.Minute,
		ParticipantTTL:           24 * time.Hour,
		GroupDefaultParticipants: 5,

		DirectPrompt: "You are {{name}}, chatting one-on-one with {{author}}. Keep replies short. " +
			"If the message needs no answer, reply exactly \"no reply\".",
		GroupPrompt: "You are {{name}}, a participant in the group chat \"{{group}}\" with {{participants}} members. " +
			"Reply only when addressed or clearly helpful, otherwise reply exactly \"no reply\". " +
			"If asked to stop, reply exactly \"pausing\".",
		PausedPrompt: "You are {{name}} and you are paused in \"{{group}}\". Answer only direct mentions or requests to resume. " +
			"Otherwise reply exactly \"no reply\". If asked to stop again, reply exactly \"pausing\".",
		GreetingPrompt: "You are {{name}} and were just added to the group chat \"{{group}}\" with {{participants}} members. " +
			"Introduce yourself in one short, friendly sentence. Do not mention the member count.",

		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,
		CORSOrigins:       []string{"https://*", "http://*"},

		LogLevel: "info",

		TracingEndpoint: "localhost:4318",
	}
}

// Load reads configuration from the optional CONFIG_FILE and environment
// variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Server
	c.ServerPort = getEnv("PORT", c.ServerPort)
	c.ServerReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.ServerReadTimeout)
	c.ServerWriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.ServerWriteTimeout)
	c.Env = getEnv("ENV", c.Env)

	// Storage
	c.StorageBackend = getEnv("STORAGE_BACKEND", c.StorageBackend)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)

	// NATS
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSCAFile = getEnv("NATS_CA_FILE", c.NATSCAFile)
	c.NATSCertFile = getEnv("NATS_CERT_FILE", c.NATSCertFile)
	c.NATSKeyFile = getEnv("NATS_KEY_FILE", c.NATSKeyFile)
	c.NATSToken = getEnv("NATS_TOKEN", c.NATSToken)

	// Backend
	c.Backend = getEnv("BACKEND", c.Backend)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModel = getEnv("OPENAI_MODEL", c.OpenAIModel)
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.Describer = getEnv("DESCRIBER", c.Describer)
	c.VisionModel = getEnv("VISION_MODEL", c.VisionModel)

	// Gateway
	c.WhapiURL = getEnv("WHAPI_URL", c.WhapiURL)
	c.WhapiToken = getEnv("WHAPI_TOKEN", c.WhapiToken)

	// Assistant
	c.AssistantName = getEnv("ASSISTANT_NAME", c.AssistantName)
	c.MentionToken = getEnv("MENTION_TOKEN", c.MentionToken)
	c.SelfMentions = getListEnv("SELF_MENTIONS", c.SelfMentions)
	c.SilencePhrases = getListEnv("SILENCE_PHRASES", c.SilencePhrases)
	c.PausePhrases = getListEnv("PAUSE_PHRASES", c.PausePhrases)
	c.ResumePhrases = getListEnv("RESUME_PHRASES", c.ResumePhrases)
	c.PauseReaction = getEnv("PAUSE_REACTION", c.PauseReaction)
	c.PauseText = getEnv("PAUSE_TEXT", c.PauseText)
	c.HistoryLimit = getIntEnv("HISTORY_LIMIT", c.HistoryLimit)
	c.MaxToolRounds = getIntEnv("MAX_TOOL_ROUNDS", c.MaxToolRounds)
	c.BackendTimeout = getDurationEnv("BACKEND_TIMEOUT", c.BackendTimeout)
	c.EventTimeout = getDurationEnv("EVENT_TIMEOUT", c.EventTimeout)
	c.ParticipantTTL = getDurationEnv("PARTICIPANT_TTL", c.ParticipantTTL)
	c.GroupDefaultParticipants = getIntEnv("GROUP_DEFAULT_PARTICIPANTS", c.GroupDefaultParticipants)

	// Prompts
	c.DirectPrompt = getEnv("DIRECT_PROMPT", c.DirectPrompt)
	c.GroupPrompt = getEnv("GROUP_PROMPT", c.GroupPrompt)
	c.PausedPrompt = getEnv("PAUSED_PROMPT", c.PausedPrompt)
	c.GreetingPrompt = getEnv("GREETING_PROMPT", c.GreetingPrompt)

	// Debug
	c.DebugJWTSecret = getEnv("DEBUG_JWT_SECRET", c.DebugJWTSecret)

	// Rate limiting
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow)
	c.CORSOrigins = getListEnv("CORS_ORIGINS", c.CORSOrigins)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	// Tracing
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", c.TracingEnabled)
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "memory", "sqlite", "nats":
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	switch c.Backend {
	case "responses", "chat":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Describer {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown describer %q", c.Describer)
	}
	if c.MaxToolRounds < 1 {
		return fmt.Errorf("max_tool_rounds must be at least 1, got %d", c.MaxToolRounds)
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be at least 1, got %d", c.HistoryLimit)
	}
	if c.GroupDefaultParticipants < 1 {
		return fmt.Errorf("group_default_participants must be positive, got %d", c.GroupDefaultParticipants)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv reads a comma-separated list. Empty items are dropped.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
