package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Automation AutomationConfig `yaml:"automation"`
	SLA        SLAConfig        `yaml:"sla"`
	WhatsApp   WhatsAppConfig   `yaml:"whatsapp"`
	Log        LogConfig        `yaml:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AutomationConfig 自动化引擎的异步派发参数
type AutomationConfig struct {
	DispatchRetries int           `yaml:"dispatch_retries"`
	DispatchBackoff time.Duration `yaml:"dispatch_backoff"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
}

// SLAConfig SLA跟踪参数，工作时间为本地时区的整点小时
type SLAConfig struct {
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	BusinessHourStart int           `yaml:"business_hour_start"`
	BusinessHourEnd   int           `yaml:"business_hour_end"`
}

// WhatsAppConfig 出站消息网关配置
type WhatsAppConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BaseURL       string        `yaml:"base_url"`
	AccessToken   string        `yaml:"access_token"`
	PhoneNumberID string        `yaml:"phone_number_id"`
	Timeout       time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, text
	Output     string `yaml:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`    // MB
	MaxAge     int    `yaml:"max_age"`     // days
	MaxBackups int    `yaml:"max_backups"` // number of backup files
	Compress   bool   `yaml:"compress"`    // compress backup files
}

type MonitoringConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MetricsPath string        `yaml:"metrics_path"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP gRPC 端点，例如 http://otel-collector:4317
	Insecure    bool    `yaml:"insecure"`     // 是否使用明文（本地/开发）
	SampleRatio float64 `yaml:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `yaml:"service_name"` // 缺省使用 "assetdesk"
}

func Load() *Config {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}
	applyDefaults(&config)
	return &config
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "assetdesk",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Automation: AutomationConfig{
			DispatchRetries: 3,
			DispatchBackoff: 500 * time.Millisecond,
			DispatchTimeout: 30 * time.Second,
		},
		SLA: SLAConfig{
			SweepInterval:     5 * time.Minute,
			BusinessHourStart: 9,
			BusinessHourEnd:   17,
		},
		WhatsApp: WhatsAppConfig{
			Enabled: false,
			BaseURL: "https://graph.facebook.com/v18.0",
			Timeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "both",
			FilePath:   "./logs/assetdesk.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "assetdesk",
			},
		},
	}
}

// applyDefaults 对未配置的关键项补默认值，避免零值导致引擎空转
func applyDefaults(cfg *Config) {
	def := GetDefaultConfig()
	if cfg.Automation.DispatchRetries <= 0 {
		cfg.Automation.DispatchRetries = def.Automation.DispatchRetries
	}
	if cfg.Automation.DispatchBackoff <= 0 {
		cfg.Automation.DispatchBackoff = def.Automation.DispatchBackoff
	}
	if cfg.Automation.DispatchTimeout <= 0 {
		cfg.Automation.DispatchTimeout = def.Automation.DispatchTimeout
	}
	if cfg.SLA.SweepInterval <= 0 {
		cfg.SLA.SweepInterval = def.SLA.SweepInterval
	}
	if cfg.SLA.BusinessHourStart <= 0 {
		cfg.SLA.BusinessHourStart = def.SLA.BusinessHourStart
	}
	if cfg.SLA.BusinessHourEnd <= 0 || cfg.SLA.BusinessHourEnd <= cfg.SLA.BusinessHourStart {
		cfg.SLA.BusinessHourEnd = def.SLA.BusinessHourEnd
	}
}
