package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// LoadEnvFile загружает первый найденный .env файл из списка путей.
// Отсутствие файла не ошибка: значения берутся из окружения.
func LoadEnvFile(paths ...string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return path, fmt.Errorf("load %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

// NormalizeEnv приводит неизвестное окружение к prod
func NormalizeEnv(env string) string {
	switch env {
	case EnvLocal, EnvDev, EnvProd:
		return env
	case "":
		return EnvLocal
	default:
		return EnvProd
	}
}
