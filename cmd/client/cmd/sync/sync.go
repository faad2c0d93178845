package sync

import (
	"fmt"

	"github.com/spf13/cobra"

	"edusync/cmd/client/cmd/types"
)

var once bool

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Синхронизация с сервером",
	Long: `Отправляет отложенные изменения на сервер.

Без флагов работает в фоне до Ctrl+C: очередь сканируется каждые
SYNC_INTERVAL_SECONDS, неудачные попытки повторяются с нарастающей
задержкой. С --once выполняется один проход.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		if !app.IsAuthenticated() {
			fmt.Println("⚠️  Вход не выполнен, сервер может отклонять запросы: edusync auth login")
		}

		if !once {
			fmt.Println("Фоновая синхронизация запущена, Ctrl+C для остановки")
			return app.Run()
		}

		res, err := app.SyncOnce(cmd.Context())
		if types.JSON {
			return types.PrintJSON(res)
		}

		fmt.Println("=== Синхронизация ===")
		fmt.Printf("Попыток:            %d\n", res.Attempted)
		fmt.Printf("Подтверждено:       %d\n", res.Cleared)
		fmt.Printf("Ждут повтора:       %d\n", res.Retrying)
		fmt.Printf("Ошибок (failed):    %d\n", res.Failed)
		if res.AuthNeeded > 0 {
			fmt.Printf("Требуют входа:      %d\n", res.AuthNeeded)
		}
		fmt.Printf("Длительность:       %s\n", res.Duration)

		return err
	},
}

func init() {
	SyncCmd.Flags().BoolVar(&once, "once", false, "один проход очереди")
}
