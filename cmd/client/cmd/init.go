package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"edusync/cmd/client/cmd/auth"
	"edusync/cmd/client/cmd/data"
	"edusync/cmd/client/cmd/queue"
	"edusync/cmd/client/cmd/status"
	"edusync/cmd/client/cmd/sync"
	"edusync/cmd/client/cmd/types"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Инициализировать клиент edusync",
	Long: `Команда init выполняет первоначальную настройку клиента:
	1. Создает директорию конфигурации и локальную базу
	2. Проверяет соединение с сервером

Без соединения клиент работает в офлайн режиме: изменения копятся
в очереди синхронизации.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		cfg := app.Config()

		fmt.Println("=== Инициализация edusync ===")
		fmt.Println()
		fmt.Printf("Директория конфигурации: %s\n", cfg.ConfigDir)
		fmt.Printf("Локальная база: %s\n", cfg.DataPath)

		fmt.Println("Проверка соединения с сервером...")
		if err := app.CheckConnection(cmd.Context()); err != nil {
			fmt.Printf("⚠️  Предупреждение: не удалось подключиться к серверу: %v\n", err)
			fmt.Println("Вы можете работать в офлайн режиме, синхронизация начнется, когда сервер станет доступен.")
		} else {
			fmt.Println("✓ Соединение с сервером установлено")
		}

		fmt.Println()
		fmt.Println("Что дальше:")
		fmt.Println("1. Войдите в систему: edusync auth login")
		fmt.Println("2. Загрузите курсы: edusync course list --refresh")
		fmt.Println("3. Запустите фоновую синхронизацию: edusync sync")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)

	rootCmd.AddCommand(auth.AuthCmd)
	auth.AuthCmd.AddCommand(auth.LoginCmd)
	auth.AuthCmd.AddCommand(auth.LogoutCmd)

	for _, c := range data.Commands() {
		rootCmd.AddCommand(c)
	}

	rootCmd.AddCommand(queue.QueueCmd)
	queue.QueueCmd.AddCommand(queue.ListCmd)
	queue.QueueCmd.AddCommand(queue.RetryCmd)
	queue.QueueCmd.AddCommand(queue.DiscardCmd)

	rootCmd.AddCommand(sync.SyncCmd)
	rootCmd.AddCommand(status.StatusCmd)
}
