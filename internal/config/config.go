package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"
)

type Config struct {
	Database     DatabaseConfig     `json:"database"`
	JWTSecret    string             `json:"jwt_secret"`
	Port         int                `json:"port"`
	JWTTTLHours  int                `json:"jwt_ttl_hours"`
	CORSOrigins  []string           `json:"cors_origins"`
	LogConfig    logger.LogConfig   `json:"log_config"`
	Mail         MailConfig         `json:"mail"`
	Verification VerificationConfig `json:"verification"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
	Events       EventsConfig       `json:"events"`
	Cleanup      CleanupConfig      `json:"cleanup"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type MailConfig struct {
	Provider string         `json:"provider"`
	From     string         `json:"from"`
	FromName string         `json:"from_name"`
	SendGrid SendGridConfig `json:"sendgrid"`
	SMTP     SMTPConfig     `json:"smtp"`
	Breaker  BreakerConfig  `json:"breaker"`
}

type SendGridConfig struct {
	APIKey string `json:"api_key"`
	Host   string `json:"host"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type BreakerConfig struct {
	MaxFailures    uint32 `json:"max_failures"`
	OpenSeconds    int    `json:"open_seconds"`
	HalfOpenRequests uint32 `json:"half_open_requests"`
}

type VerificationConfig struct {
	Mode           string `json:"mode"`
	TTLSeconds     int    `json:"ttl_seconds"`
	CodeLength     int    `json:"code_length"`
	MaxResends     int    `json:"max_resends"`
	MaxFailures    int    `json:"max_failures"`
	LinkBaseURL    string `json:"link_base_url"`
	SuccessURL     string `json:"success_url"`
	FailureURL     string `json:"failure_url"`
	SignupRedirect string `json:"signup_redirect"`
}

type RateLimitConfig struct {
	WindowMillis int         `json:"window_millis"`
	CacheSize    int         `json:"cache_size"`
	Redis        RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type EventsConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

type CleanupConfig struct {
	Spec        string `json:"spec"`
	RetainHours int    `json:"retain_hours"`
}

const (
	MailProviderSendGrid = "sendgrid"
	MailProviderSMTP     = "smtp"
	MailProviderLog      = "log"

	VerificationModeCode = "code"
	VerificationModeLink = "link"
)

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv never overrides variables already present in the process env.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		cfg.Mail.SendGrid.APIKey = v
		if cfg.Mail.Provider == "" {
			cfg.Mail.Provider = MailProviderSendGrid
		}
	}
	if v := os.Getenv("SENDER_EMAIL"); v != "" {
		cfg.Mail.From = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RateLimit.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Events.Brokers = strings.Split(v, ",")
	}
}

func (cfg *Config) normalize() error {
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.JWTTTLHours == 0 {
		cfg.JWTTTLHours = 72
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if err := cfg.Mail.normalize(); err != nil {
		return err
	}
	if err := cfg.Verification.normalize(); err != nil {
		return err
	}
	if cfg.RateLimit.WindowMillis == 0 {
		cfg.RateLimit.WindowMillis = 1000
	}
	if cfg.RateLimit.CacheSize <= 0 {
		cfg.RateLimit.CacheSize = 10000
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "onboard.accounts"
	}
	if cfg.Cleanup.Spec == "" {
		cfg.Cleanup.Spec = "*/10 * * * *"
	}
	if cfg.Cleanup.RetainHours <= 0 {
		cfg.Cleanup.RetainHours = 24
	}
	return nil
}

func (m *MailConfig) normalize() error {
	if m.Provider == "" {
		m.Provider = MailProviderLog
	}
	switch m.Provider {
	case MailProviderSendGrid:
		if m.SendGrid.APIKey == "" {
			return fmt.Errorf("mail.sendgrid.api_key is required for sendgrid provider")
		}
		if m.SendGrid.Host == "" {
			m.SendGrid.Host = "https://api.sendgrid.com"
		}
	case MailProviderSMTP:
		if m.SMTP.Host == "" || m.SMTP.Port == 0 {
			return fmt.Errorf("mail.smtp host/port are required for smtp provider")
		}
	case MailProviderLog:
	default:
		return fmt.Errorf("mail.provider must be sendgrid, smtp or log")
	}
	if m.Provider != MailProviderLog && m.From == "" {
		return fmt.Errorf("mail.from is required")
	}
	if m.Breaker.MaxFailures == 0 {
		m.Breaker.MaxFailures = 5
	}
	if m.Breaker.OpenSeconds <= 0 {
		m.Breaker.OpenSeconds = 30
	}
	if m.Breaker.HalfOpenRequests == 0 {
		m.Breaker.HalfOpenRequests = 1
	}
	return nil
}

func (v *VerificationConfig) normalize() error {
	if v.Mode == "" {
		v.Mode = VerificationModeCode
	}
	switch v.Mode {
	case VerificationModeCode:
	case VerificationModeLink:
		if v.LinkBaseURL == "" {
			return fmt.Errorf("verification.link_base_url is required for link mode")
		}
	default:
		return fmt.Errorf("verification.mode must be code or link")
	}
	if v.TTLSeconds <= 0 {
		v.TTLSeconds = 180
	}
	if v.CodeLength <= 0 {
		v.CodeLength = 6
	}
	if v.CodeLength < 6 || v.CodeLength > 12 {
		return fmt.Errorf("verification.code_length must be between 6 and 12")
	}
	if v.MaxResends <= 0 {
		v.MaxResends = 2
	}
	if v.MaxFailures <= 0 {
		v.MaxFailures = 5
	}
	if v.SignupRedirect == "" {
		v.SignupRedirect = "/signup"
	}
	if v.SuccessURL == "" {
		v.SuccessURL = "/verification-success.html"
	}
	if v.FailureURL == "" {
		v.FailureURL = "/verification-failed.html"
	}
	return nil
}
