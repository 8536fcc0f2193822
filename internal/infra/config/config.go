package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Sender kinds
const (
	SenderLog  = "log"
	SenderSMTP = "smtp"
	SenderAMQP = "amqp"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// AMQPConfig holds the broker settings for handing digests to a mailer service.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL string
	LogLevel    string
	Environment string

	CronSpecClassify string
	CronSpecDispatch string

	DueInWindowDays        int
	ReferenceDateTolerance time.Duration
	ResolveTimeout         time.Duration
	SendTimeout            time.Duration
	DispatchWorkers        int
	SendRatePerSecond      float64
	DispatchLease          time.Duration
	JobTimeout             time.Duration

	Sender string
	SMTP   SMTPConfig
	AMQP   AMQPConfig

	HTTPAddr   string
	AdminToken string

	AlertTelegramToken  string
	AlertTelegramChatID int64

	RolesFile string
}

// Load reads configuration from environment variables, a .env file and an
// optional config.yaml. Environment variables win over the file.
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &AppConfig{
		DatabaseURL:            v.GetString("database_url"),
		LogLevel:               strings.ToLower(v.GetString("log_level")),
		Environment:            strings.ToLower(v.GetString("environment")),
		CronSpecClassify:       v.GetString("cron_spec_classify"),
		CronSpecDispatch:       v.GetString("cron_spec_dispatch"),
		DueInWindowDays:        v.GetInt("due_in_window_days"),
		ReferenceDateTolerance: v.GetDuration("reference_date_tolerance"),
		ResolveTimeout:         v.GetDuration("resolve_timeout"),
		SendTimeout:            v.GetDuration("send_timeout"),
		DispatchWorkers:        v.GetInt("dispatch_workers"),
		SendRatePerSecond:      v.GetFloat64("send_rate_per_sec"),
		DispatchLease:          v.GetDuration("dispatch_lease"),
		JobTimeout:             v.GetDuration("job_timeout"),
		Sender:                 strings.ToLower(v.GetString("sender")),
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp_host"),
			Port:     v.GetInt("smtp_port"),
			Username: v.GetString("smtp_username"),
			Password: v.GetString("smtp_password"),
			From:     v.GetString("smtp_from"),
		},
		AMQP: AMQPConfig{
			URL:        v.GetString("amqp_url"),
			Exchange:   v.GetString("amqp_exchange"),
			RoutingKey: v.GetString("amqp_routing_key"),
		},
		HTTPAddr:            v.GetString("http_addr"),
		AdminToken:          v.GetString("admin_token"),
		AlertTelegramToken:  v.GetString("alert_telegram_token"),
		AlertTelegramChatID: v.GetInt64("alert_telegram_chat_id"),
		RolesFile:           v.GetString("roles_file"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and cross-field constraints.
func (c *AppConfig) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	if c.DueInWindowDays < 0 {
		return fmt.Errorf("invalid DUE_IN_WINDOW_DAYS: %d", c.DueInWindowDays)
	}
	if c.ReferenceDateTolerance < 0 {
		return fmt.Errorf("invalid REFERENCE_DATE_TOLERANCE: %s", c.ReferenceDateTolerance)
	}
	if c.DispatchWorkers < 1 {
		return fmt.Errorf("invalid DISPATCH_WORKERS: %d", c.DispatchWorkers)
	}
	if c.SendRatePerSecond < 0 {
		return fmt.Errorf("invalid SEND_RATE_PER_SEC: %v", c.SendRatePerSecond)
	}

	switch c.Sender {
	case SenderLog:
	case SenderSMTP:
		if c.SMTP.Host == "" || c.SMTP.From == "" {
			return fmt.Errorf("SMTP_HOST and SMTP_FROM are required when SENDER=smtp")
		}
	case SenderAMQP:
		if c.AMQP.URL == "" || c.AMQP.Exchange == "" {
			return fmt.Errorf("AMQP_URL and AMQP_EXCHANGE are required when SENDER=amqp")
		}
	default:
		return fmt.Errorf("unknown SENDER %q (want log, smtp or amqp)", c.Sender)
	}

	if c.AlertTelegramToken != "" && c.AlertTelegramChatID == 0 {
		return fmt.Errorf("ALERT_TELEGRAM_CHAT_ID is required when ALERT_TELEGRAM_TOKEN is set")
	}
	return nil
}

// IsProduction reports whether logs should be machine readable.
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("environment", "development")

	v.SetDefault("cron_spec_classify", "0 6 * * *")  // 06:00 UTC daily
	v.SetDefault("cron_spec_dispatch", "30 6 * * *") // 06:30 UTC daily

	v.SetDefault("due_in_window_days", 3)
	v.SetDefault("reference_date_tolerance", "0s")
	v.SetDefault("resolve_timeout", "5s")
	v.SetDefault("send_timeout", "30s")
	v.SetDefault("dispatch_workers", 4)
	v.SetDefault("send_rate_per_sec", 0)
	v.SetDefault("dispatch_lease", "15m")
	v.SetDefault("job_timeout", "30m")

	v.SetDefault("sender", SenderLog)
	v.SetDefault("smtp_port", 587)
	v.SetDefault("amqp_exchange", "notifications")
	v.SetDefault("amqp_routing_key", "digest.daily")

	v.SetDefault("http_addr", ":8080")
}
