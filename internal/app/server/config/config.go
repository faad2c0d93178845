package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	appconfig "edusync/internal/config"
)

type Config struct {
	Env      string
	LogLevel string
	DB       DB
	Server   Server
	Admin    Admin
	Session  Session
}

type DB struct {
	DatabaseURI string
	Migrations  string
}

type Server struct {
	RunAddress      string
	ShutdownTimeout time.Duration
}

// Admin - учетная запись, которая заводится при старте
type Admin struct {
	Login    string
	Password string
}

type Session struct {
	TTL time.Duration
}

// Load читает .env (если есть), окружение и необязательный YAML файл
func Load(configFile string) (*Config, error) {
	if _, err := appconfig.LoadEnvFile(".env", "../../.env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("app_env", appconfig.EnvLocal)
	v.SetDefault("log_level", "info")
	v.SetDefault("run_address", ":8080")
	v.SetDefault("migrations_path", "migrations")
	v.SetDefault("session_ttl_hours", 24)
	v.SetDefault("shutdown_timeout_seconds", 10)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("чтение %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Env:      appconfig.NormalizeEnv(v.GetString("app_env")),
		LogLevel: v.GetString("log_level"),
		DB: DB{
			DatabaseURI: v.GetString("database_uri"),
			Migrations:  v.GetString("migrations_path"),
		},
		Server: Server{
			RunAddress:      v.GetString("run_address"),
			ShutdownTimeout: time.Duration(v.GetInt("shutdown_timeout_seconds")) * time.Second,
		},
		Admin: Admin{
			Login:    v.GetString("admin_login"),
			Password: v.GetString("admin_password"),
		},
		Session: Session{
			TTL: time.Duration(v.GetInt("session_ttl_hours")) * time.Hour,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad(configFile string) *Config {
	cfg, err := Load(configFile)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) validate() error {
	var errs []error
	if c.DB.DatabaseURI == "" {
		errs = append(errs, errors.New("не задан DATABASE_URI"))
	}
	if c.Server.RunAddress == "" {
		errs = append(errs, errors.New("не задан RUN_ADDRESS"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL_HOURS должен быть больше нуля"))
	}
	if (c.Admin.Login == "") != (c.Admin.Password == "") {
		errs = append(errs, errors.New("ADMIN_LOGIN и ADMIN_PASSWORD задаются вместе"))
	}
	return errors.Join(errs...)
}
