// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Esewa         EsewaConfig         `mapstructure:"esewa"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Session       SessionConfig       `mapstructure:"session"`
	Upload        UploadConfig        `mapstructure:"upload"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// EsewaConfig 存储 eSewa 支付网关的配置。
type EsewaConfig struct {
	ProductCode     string `mapstructure:"product_code"`
	SecretKey       string `mapstructure:"secret_key"`
	FormURL         string `mapstructure:"form_url"`
	SuccessURL      string `mapstructure:"success_url"`
	FailureURL      string `mapstructure:"failure_url"`
	VerifySignature bool   `mapstructure:"verify_signature"`
}

// PaymentConfig 控制支付会话与对账任务。
type PaymentConfig struct {
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	// 支付成功/失败后前端跳转地址，room_id 以查询参数追加
	FrontendSuccessURL string `mapstructure:"frontend_success_url"`
	FrontendFailureURL string `mapstructure:"frontend_failure_url"`
}

// ChatConfig 控制 AI 学习助手的会话行为。
type ChatConfig struct {
	Store          string        `mapstructure:"store"` // redis 或 memory
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	MaxTurns       int           `mapstructure:"max_turns"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	SystemPrompt   string        `mapstructure:"system_prompt"`
	SummaryPrompt  string        `mapstructure:"summary_prompt"`
	SummaryHistory int           `mapstructure:"summary_history"`
}

// SessionConfig 存储浏览器会话 cookie 的配置。
type SessionConfig struct {
	CookieName string `mapstructure:"cookie_name"`
	MaxAge     int    `mapstructure:"max_age"`
	Secure     bool   `mapstructure:"secure"`
}

// UploadConfig 存储上传限制。
type UploadConfig struct {
	MaterialMaxBytes  int64 `mapstructure:"material_max_bytes"`
	ReadAloudMaxBytes int64 `mapstructure:"read_aloud_max_bytes"`
	ReadAloudMaxChars int   `mapstructure:"read_aloud_max_chars"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	if err := Load(configPath, &Conf); err != nil {
		panic(err)
	}
}

// Load 读取配置文件并允许环境变量覆盖（如 ESEWA_SECRET_KEY）。
func Load(configPath string, out *Config) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("kafka.group_id", "innovacollab-material-consumer")
	v.SetDefault("tika.timeout", 60*time.Second)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("esewa.product_code", "EPAYTEST")
	v.SetDefault("esewa.verify_signature", true)
	v.SetDefault("payment.session_ttl", 30*time.Minute)
	v.SetDefault("payment.reconcile_interval", 10*time.Minute)
	v.SetDefault("chat.store", "redis")
	v.SetDefault("chat.session_ttl", 2*time.Hour)
	v.SetDefault("chat.max_turns", 50)
	v.SetDefault("chat.lock_ttl", 90*time.Second)
	v.SetDefault("chat.summary_history", 10)
	v.SetDefault("session.cookie_name", "ic_sid")
	v.SetDefault("session.max_age", 14*24*3600)
	v.SetDefault("upload.material_max_bytes", 50*1024*1024)
	v.SetDefault("upload.read_aloud_max_bytes", 10*1024*1024)
	v.SetDefault("upload.read_aloud_max_chars", 100000)
}
