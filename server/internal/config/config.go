package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Qualification QualificationConfig `yaml:"qualification"`
	Session       SessionConfig       `yaml:"session"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// Addr 返回监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig 文本补全服务配置。
// Primary 失败后只降级一次到 Fallback（更便宜/更快的模型），不再重试。
type LLMConfig struct {
	Primary  LLMProviderConfig `yaml:"primary"`
	Fallback LLMProviderConfig `yaml:"fallback"`
	// Timeout 是单次补全调用的上限。
	Timeout time.Duration `yaml:"timeout"`
}

// LLMProviderConfig LLM 提供商配置
type LLMProviderConfig struct {
	Provider    string  `yaml:"provider"` // "openai" or "anthropic"
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// QualificationConfig 是资质判定的可调常量。
//
// 注意：默认 MinConfidence(0.8) 高于 MeetingQualificationScore(0.75)，
// 这会让 ANALYZING 状态在默认配置下不可达。保持原样，需要时通过配置覆盖。
type QualificationConfig struct {
	MeetingQualificationScore float64 `yaml:"meeting_qualification_score"`
	MinConfidence             float64 `yaml:"min_confidence"`
	AuthenticityFloor         float64 `yaml:"authenticity_floor"`
	// ClarifyBelow 以下的分数会在回复末尾追加澄清问题。
	ClarifyBelow float64 `yaml:"clarify_below"`

	MaxMessages        int `yaml:"max_messages"`
	SoftWarningAt      int `yaml:"soft_warning_at"`
	LengthWarningEvery int `yaml:"length_warning_every"`
	MaxQuickReplies    int `yaml:"max_quick_replies"`

	SchedulingURL             string `yaml:"scheduling_url"`
	ContactEmail              string `yaml:"contact_email"`
	ConversationLimitResponse string `yaml:"conversation_limit_response"`
	Greeting                  string `yaml:"greeting"`
}

type SessionConfig struct {
	// Backend: memory | redis | postgres | sqlite
	Backend   string        `yaml:"backend"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
	DSN       string        `yaml:"dsn"`
}

type LoggingConfig struct {
	// Mode: dev | prod
	Mode   string `yaml:"mode"`
	Redact bool   `yaml:"redact"`
}

// Default 返回一份可直接运行的默认配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://localhost:5173",
				"http://127.0.0.1:5173",
			},
		},
		LLM: LLMConfig{
			Primary: LLMProviderConfig{
				Provider:    "openai",
				APIURL:      "https://api.openai.com/v1",
				Model:       "gpt-4o",
				Temperature: 0.4,
				MaxTokens:   1500,
			},
			Fallback: LLMProviderConfig{
				Provider:    "openai",
				APIURL:      "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				Temperature: 0.3,
				MaxTokens:   800,
			},
			Timeout: 30 * time.Second,
		},
		Qualification: DefaultQualification(),
		Session: SessionConfig{
			Backend:   "memory",
			KeyPrefix: "leadtalk:session:",
			TTL:       72 * time.Hour,
		},
		Logging: LoggingConfig{Mode: "dev"},
	}
}

// DefaultQualification 返回资质判定的默认常量。
func DefaultQualification() QualificationConfig {
	return QualificationConfig{
		MeetingQualificationScore: 0.75,
		MinConfidence:             0.8,
		AuthenticityFloor:         0.7,
		ClarifyBelow:              0.4,
		MaxMessages:               50,
		SoftWarningAt:             40,
		LengthWarningEvery:        3,
		MaxQuickReplies:           5,
		SchedulingURL:             "https://calendly.com/your-name/30min",
		ContactEmail:              "hello@example.com",
		ConversationLimitResponse: "We've reached the length limit for this chat. Please reach out directly by email and I'll pick it up from there.",
		Greeting:                  "Hi! Tell me a bit about what brings you here: an idea you want to validate, a project you need help with, a technical question, or a role you're hiring for?",
	}
}

// Load 从文件加载配置；path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	// .env.local 优先于 .env；已存在的环境变量不会被覆盖。
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}

	cfg := Default()
	if path != "" {
		fmt.Printf("📋 Loading config from: %s\n", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv 从环境变量覆盖敏感信息与部署相关配置。
func applyEnv(cfg *Config) {
	if key := strings.TrimSpace(os.Getenv("LLM_API_KEY")); key != "" {
		cfg.LLM.Primary.APIKey = key
		cfg.LLM.Fallback.APIKey = key
	}
	for _, p := range []*LLMProviderConfig{&cfg.LLM.Primary, &cfg.LLM.Fallback} {
		if p.APIKey != "" {
			continue
		}
		switch p.Provider {
		case "anthropic":
			p.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			p.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if v := strings.TrimSpace(os.Getenv("SCHEDULING_URL")); v != "" {
		cfg.Qualification.SchedulingURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Session.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_DSN")); v != "" {
		cfg.Session.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("SESSION_BACKEND")); v != "" {
		cfg.Session.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_MODE")); v != "" {
		cfg.Logging.Mode = v
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("LOG_REDACT"))); err == nil {
		cfg.Logging.Redact = v
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.LLM.Primary.APIKey == "" {
		return fmt.Errorf("LLM API key is required (set LLM_API_KEY/OPENAI_API_KEY env var or config)")
	}
	if c.LLM.Fallback.Model == "" {
		// 未配置降级模型时沿用主模型。
		c.LLM.Fallback = c.LLM.Primary
	}
	q := c.Qualification
	if strings.TrimSpace(q.SchedulingURL) == "" {
		return fmt.Errorf("qualification.scheduling_url is required")
	}
	for name, v := range map[string]float64{
		"meeting_qualification_score": q.MeetingQualificationScore,
		"min_confidence":              q.MinConfidence,
		"authenticity_floor":          q.AuthenticityFloor,
		"clarify_below":               q.ClarifyBelow,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("qualification.%s must be within [0,1], got %v", name, v)
		}
	}
	if q.MaxMessages <= 0 {
		return fmt.Errorf("qualification.max_messages must be positive")
	}
	if q.LengthWarningEvery <= 0 {
		return fmt.Errorf("qualification.length_warning_every must be positive")
	}
	switch c.Session.Backend {
	case "memory", "":
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr is required for redis backend")
		}
	case "postgres", "sqlite":
		if c.Session.DSN == "" {
			return fmt.Errorf("session.dsn is required for %s backend", c.Session.Backend)
		}
	default:
		return fmt.Errorf("unsupported session backend: %s", c.Session.Backend)
	}
	return nil
}
