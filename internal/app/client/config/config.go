package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"edusync/internal/app/client/backoff"
)

const (
	defaultServerAddress = "localhost:8080"
	defaultLogLevel      = "info"
	defaultEnv           = "local"
	defaultConfigDir     = ".edusync"
)

type Config struct {
	Env           string `mapstructure:"app_env"`
	ServerAddress string `mapstructure:"server_address"`
	LogLevel      string `mapstructure:"log_level"`
	ConfigDir     string `mapstructure:"config_dir"`
	TokenPath     string `mapstructure:"token_path"`
	DataPath      string `mapstructure:"data_path"`
	EnableTLS     bool   `mapstructure:"enable_tls"`

	SyncInterval   time.Duration
	SyncWorkers    int
	Staleness      time.Duration
	RequestTimeout time.Duration
	Debounce       time.Duration
	EvictAfter     time.Duration
	Retry          backoff.Policy
}

// MustLoad загружает конфигурацию клиента и завершает работу при ошибке
func MustLoad(configFile string) *Config {
	cfg, err := Load(configFile)
	if err != nil {
		panic(fmt.Sprintf("Ошибка конфигурации: %v", err))
	}
	return cfg
}

// Load читает .env (если есть), необязательный YAML файл и переменные окружения.
// Переменные окружения имеют приоритет над файлом.
func Load(configFile string) (*Config, error) {
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = "../.env"
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("загрузка .env: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", defaultEnv)
	v.SetDefault("SERVER_ADDRESS", defaultServerAddress)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("CONFIG_DIR", defaultConfigDir)
	v.SetDefault("ENABLE_TLS", false)
	v.SetDefault("SYNC_INTERVAL_SECONDS", 5)
	v.SetDefault("SYNC_WORKERS", 4)
	v.SetDefault("STALENESS_SECONDS", 60)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 10)
	v.SetDefault("RETRY_INITIAL_MS", 1000)
	v.SetDefault("RETRY_FACTOR", 2.0)
	v.SetDefault("RETRY_MAX_MS", 10000)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	v.SetDefault("RETRY_JITTER", 0.2)
	v.SetDefault("DEBOUNCE_MS", 300)
	v.SetDefault("EVICT_AFTER_HOURS", 168)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("чтение %s: %w", configFile, err)
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	configDir := v.GetString("CONFIG_DIR")
	if configDir == defaultConfigDir {
		configDir = filepath.Join(homeDir, configDir)
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("создание директории конфигурации: %w", err)
	}

	tokenPath := v.GetString("TOKEN_PATH")
	if tokenPath == "" {
		tokenPath = filepath.Join(configDir, "token")
	}
	dataPath := v.GetString("DATA_PATH")
	if dataPath == "" {
		dataPath = filepath.Join(configDir, "edusync.db")
	}

	cfg := &Config{
		Env:            v.GetString("APP_ENV"),
		ServerAddress:  v.GetString("SERVER_ADDRESS"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		ConfigDir:      configDir,
		TokenPath:      tokenPath,
		DataPath:       dataPath,
		EnableTLS:      v.GetBool("ENABLE_TLS"),
		SyncInterval:   time.Duration(v.GetInt("SYNC_INTERVAL_SECONDS")) * time.Second,
		SyncWorkers:    v.GetInt("SYNC_WORKERS"),
		Staleness:      time.Duration(v.GetInt("STALENESS_SECONDS")) * time.Second,
		RequestTimeout: time.Duration(v.GetInt("REQUEST_TIMEOUT_SECONDS")) * time.Second,
		Debounce:       time.Duration(v.GetInt("DEBOUNCE_MS")) * time.Millisecond,
		EvictAfter:     time.Duration(v.GetInt("EVICT_AFTER_HOURS")) * time.Hour,
		Retry: backoff.Policy{
			Initial:    time.Duration(v.GetInt("RETRY_INITIAL_MS")) * time.Millisecond,
			Factor:     v.GetFloat64("RETRY_FACTOR"),
			Max:        time.Duration(v.GetInt("RETRY_MAX_MS")) * time.Millisecond,
			MaxRetries: v.GetInt("RETRY_MAX_ATTEMPTS"),
			Jitter:     v.GetFloat64("RETRY_JITTER"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("server_address не может быть пустым")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval_seconds должен быть положительным")
	}
	if c.SyncWorkers < 1 {
		return fmt.Errorf("sync_workers должен быть не меньше 1")
	}
	if c.Retry.Initial <= 0 || c.Retry.Max < c.Retry.Initial {
		return fmt.Errorf("некорректные задержки повтора: initial %s, max %s", c.Retry.Initial, c.Retry.Max)
	}
	if c.Retry.Factor < 1 {
		return fmt.Errorf("retry_factor должен быть не меньше 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return fmt.Errorf("retry_jitter должен быть в диапазоне [0, 1)")
	}
	return nil
}

// IsProd проверяет, prod ли окружение
func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// IsLocal проверяет, local ли окружение
func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == ""
}
