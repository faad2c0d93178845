// Package types - общее для подкоманд клиента: доступ к приложению и вывод.
package types

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"edusync/internal/app/client"
)

type contextKey string

// ClientAppKey - ключ приложения в контексте команды
const ClientAppKey contextKey = "app"

// JSON - глобальный флаг --json
var JSON bool

// App достает приложение из контекста команды
func App(cmd *cobra.Command) (*client.App, error) {
	app, ok := cmd.Context().Value(ClientAppKey).(*client.App)
	if !ok || app == nil {
		return nil, fmt.Errorf("приложение не инициализировано")
	}
	return app, nil
}

// PrintJSON печатает v с отступами
func PrintJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
