package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App       AppConfig       `json:"app"`
	MySQL     MySQLConfig     `json:"mysql"`
	Redis     RedisConfig     `json:"redis"`
	Email     EmailConfig     `json:"email"`
	Security  SecurityConfig  `json:"security"`
	Providers ProvidersConfig `json:"providers"`
	Tracing   TracingConfig   `json:"tracing"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env              string        `json:"env"`               // 运行环境: local / prod
	LogLevel         string        `json:"log_level"`         // 日志级别: debug / info / warn / error
	HTTPAddr         string        `json:"http_addr"`         // API 服务监听地址
	MetricsAddr      string        `json:"metrics_addr"`      // Worker 指标监听地址
	ScheduleInterval time.Duration `json:"schedule_interval"` // 调度扫描间隔（如 "1m"）
	CheckTimeout     time.Duration `json:"check_timeout"`     // 单次追踪器检查的总超时
	ProviderTimeout  time.Duration `json:"provider_timeout"`  // 单个 provider 调用超时
	WorkerPoolSize   int           `json:"worker_pool_size"`  // Worker Pool 大小（并发检查数）
	QueueCapacity    int           `json:"queue_capacity"`    // 本地队列容量
	QueueBatchSize   int           `json:"queue_batch_size"`  // 调度器单批扫描的追踪器数量
	ReportTopN       int           `json:"report_top_n"`      // 报告中保留的备选报价数量
	RetentionDays    int           `json:"retention_days"`    // 观测保留天数（未设置或 0 取默认 180，负数表示不清理）
	SeedDemo         bool          `json:"seed_demo"`         // 启动时写入演示数据
	MaxTrackers      int           `json:"max_trackers"`      // 每个用户最大追踪器数

	// Redis Streams 通知队列配置
	NotifyStream string `json:"notify_stream"` // Redis Stream 名称
	NotifyGroup  string `json:"notify_group"`  // Consumer Group 名称
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"` // JWT 签名密钥
}

// ProvidersConfig 航班数据源配置。
type ProvidersConfig struct {
	TequilaAPIKey    string  `json:"tequila_api_key"`    // 为空时退化为 synthetic 数据源
	TequilaBaseURL   string  `json:"tequila_base_url"`   // Tequila API 地址
	MaxCodesPerCall  int     `json:"max_codes_per_call"` // 单次请求的最大机场代码数
	RateLimit        float64 `json:"rate_limit"`         // provider 限流速率（token/s）
	RateBurst        float64 `json:"rate_burst"`         // provider 限流桶容量
	SyntheticEnabled bool    `json:"synthetic_enabled"`  // 是否额外启用 synthetic 数据源
	SyntheticMax     int     `json:"synthetic_max"`      // synthetic 单次最多返回的报价数
}

// TracingConfig 链路追踪配置。
type TracingConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"` // Jaeger collector 地址
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:              "local",
			LogLevel:         "info",
			HTTPAddr:         ":8081",
			MetricsAddr:      ":2112",
			ScheduleInterval: time.Minute,
			CheckTimeout:     2 * time.Minute,
			ProviderTimeout:  45 * time.Second,
			WorkerPoolSize:   8,
			QueueCapacity:    256,
			QueueBatchSize:   100,
			ReportTopN:       5,
			RetentionDays:    180,
			MaxTrackers:      20,
			NotifyStream:     "flighthunter:notify:stream",
			NotifyGroup:      "notifier_group",
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/flighthunter?parseTime=true&loc=UTC",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Security: SecurityConfig{
			JWTSecret: "dev_secret_change_me",
		},
		Providers: ProvidersConfig{
			TequilaBaseURL:  "https://api.tequila.kiwi.com",
			MaxCodesPerCall: 5,
			RateLimit:       2,
			RateBurst:       4,
			SyntheticMax:    200,
		},
		Tracing: TracingConfig{
			Endpoint: "http://localhost:14268/api/traces",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = defaults.App.MetricsAddr
	}
	if cfg.App.ScheduleInterval == 0 {
		cfg.App.ScheduleInterval = defaults.App.ScheduleInterval
	}
	if cfg.App.CheckTimeout == 0 {
		cfg.App.CheckTimeout = defaults.App.CheckTimeout
	}
	if cfg.App.ProviderTimeout == 0 {
		cfg.App.ProviderTimeout = defaults.App.ProviderTimeout
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.QueueBatchSize == 0 {
		cfg.App.QueueBatchSize = defaults.App.QueueBatchSize
	}
	if cfg.App.ReportTopN == 0 {
		cfg.App.ReportTopN = defaults.App.ReportTopN
	}
	if cfg.App.RetentionDays == 0 {
		cfg.App.RetentionDays = defaults.App.RetentionDays
	}
	if cfg.App.MaxTrackers == 0 {
		cfg.App.MaxTrackers = defaults.App.MaxTrackers
	}
	if cfg.App.NotifyStream == "" {
		cfg.App.NotifyStream = defaults.App.NotifyStream
	}
	if cfg.App.NotifyGroup == "" {
		cfg.App.NotifyGroup = defaults.App.NotifyGroup
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Providers.TequilaBaseURL == "" {
		cfg.Providers.TequilaBaseURL = defaults.Providers.TequilaBaseURL
	}
	if cfg.Providers.MaxCodesPerCall == 0 {
		cfg.Providers.MaxCodesPerCall = defaults.Providers.MaxCodesPerCall
	}
	if cfg.Providers.RateLimit == 0 {
		cfg.Providers.RateLimit = defaults.Providers.RateLimit
	}
	if cfg.Providers.RateBurst == 0 {
		cfg.Providers.RateBurst = defaults.Providers.RateBurst
	}
	if cfg.Providers.SyntheticMax == 0 {
		cfg.Providers.SyntheticMax = defaults.Providers.SyntheticMax
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = defaults.Tracing.Endpoint
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("tequila_api_key", "TEQUILA_API_KEY")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	envDuration("APP_SCHEDULE_INTERVAL", &cfg.App.ScheduleInterval)
	envDuration("APP_CHECK_TIMEOUT", &cfg.App.CheckTimeout)
	envDuration("APP_PROVIDER_TIMEOUT", &cfg.App.ProviderTimeout)
	envInt("APP_WORKER_POOL_SIZE", &cfg.App.WorkerPoolSize)
	envInt("APP_QUEUE_CAPACITY", &cfg.App.QueueCapacity)
	envInt("APP_QUEUE_BATCH_SIZE", &cfg.App.QueueBatchSize)
	envInt("APP_REPORT_TOP_N", &cfg.App.ReportTopN)
	envInt("APP_RETENTION_DAYS", &cfg.App.RetentionDays)
	envInt("APP_MAX_TRACKERS", &cfg.App.MaxTrackers)
	envBool("APP_SEED_DEMO", &cfg.App.SeedDemo)

	if v := os.Getenv("APP_NOTIFY_STREAM"); v != "" {
		cfg.App.NotifyStream = v
	}
	if v := os.Getenv("APP_NOTIFY_GROUP"); v != "" {
		cfg.App.NotifyGroup = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	envInt("SMTP_PORT", &cfg.Email.SMTPPort)
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}

	if v := viper.GetString("tequila_api_key"); v != "" {
		cfg.Providers.TequilaAPIKey = v
	}
	if v := os.Getenv("TEQUILA_BASE_URL"); v != "" {
		cfg.Providers.TequilaBaseURL = strings.TrimRight(v, "/")
	}
	envInt("TEQUILA_MAX_CODES", &cfg.Providers.MaxCodesPerCall)
	envFloat("PROVIDER_RATE_LIMIT", &cfg.Providers.RateLimit)
	envFloat("PROVIDER_RATE_BURST", &cfg.Providers.RateBurst)
	envBool("SYNTHETIC_ENABLED", &cfg.Providers.SyntheticEnabled)
	envInt("SYNTHETIC_MAX", &cfg.Providers.SyntheticMax)

	envBool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	if v := os.Getenv("TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "flighthunter",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "UTC",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		ScheduleInterval string `json:"schedule_interval"`
		CheckTimeout     string `json:"check_timeout"`
		ProviderTimeout  string `json:"provider_timeout"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"schedule_interval", aux.ScheduleInterval, &a.ScheduleInterval},
		{"check_timeout", aux.CheckTimeout, &a.CheckTimeout},
		{"provider_timeout", aux.ProviderTimeout, &a.ProviderTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		ScheduleInterval string `json:"schedule_interval"`
		CheckTimeout     string `json:"check_timeout"`
		ProviderTimeout  string `json:"provider_timeout"`
		*Alias
	}{
		ScheduleInterval: a.ScheduleInterval.String(),
		CheckTimeout:     a.CheckTimeout.String(),
		ProviderTimeout:  a.ProviderTimeout.String(),
		Alias:            (*Alias)(&a),
	})
}
