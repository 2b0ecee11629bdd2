// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Admin     AdminConfig     `mapstructure:"admin"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Tika      TikaConfig      `mapstructure:"tika"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	AI        AIConfig        `mapstructure:"ai"`
	Upload    UploadConfig    `mapstructure:"upload"`
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

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// AdminConfig 存储管理员控制台的访问配置。
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// RateLimitConfig 存储基于 Redis 的请求限流配置。
type RateLimitConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	PerWindow     int  `mapstructure:"per_window"`
	WindowSeconds int  `mapstructure:"window_seconds"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	URLExpireHours  int    `mapstructure:"url_expire_hours"`
}

// AIConfig 存储大语言模型相关的配置。
type AIConfig struct {
	APIKey       string             `mapstructure:"api_key"`
	BaseURL      string             `mapstructure:"base_url"`
	TextModel    string             `mapstructure:"text_model"`
	VisionModels []string           `mapstructure:"vision_models"`
	LabelModel   string             `mapstructure:"label_model"`
	Generation   AIGenerationConfig `mapstructure:"generation"`
	Prompt       AIPromptConfig     `mapstructure:"prompt"`
}

// AIGenerationConfig 配置生成相关参数（可选）。
type AIGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// AIPromptConfig 配置系统提示（可选，缺省使用内置提示）。
type AIPromptConfig struct {
	System string `mapstructure:"system"`
	Label  string `mapstructure:"label"`
}

// UploadConfig 存储文件上传相关的配置。
type UploadConfig struct {
	// ContextMaxChars 限制写入对话上下文的提取文本长度。
	ContextMaxChars int `mapstructure:"context_max_chars"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
