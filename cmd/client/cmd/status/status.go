// Package status - сводное состояние кэша и очереди.
package status

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"edusync/cmd/client/cmd/types"
	"edusync/internal/app/client"
	"edusync/internal/app/client/store"
	"edusync/internal/domain/entity"
	"edusync/internal/resource"
)

var force bool

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Состояние кэша и синхронизации",
	Long: `Обновляет все семейства сущностей (если кэш устарел) и показывает
сводку: количество записей, возраст кэша, очередь синхронизации.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		kinds := entity.Kinds()
		streams := make([]<-chan resource.Resource[[]client.Item], 0, len(kinds))
		for _, k := range kinds {
			coll, err := app.Collection(k)
			if err != nil {
				return err
			}
			streams = append(streams, coll.Refresh(ctx, "", force))
		}

		combined := resource.Last(ctx, resource.Combine(ctx, streams...))

		fmt.Println("=== Состояние edusync ===")
		fmt.Printf("Сервер: %s\n", app.Config().ServerAddress)
		switch {
		case app.AuthRequired():
			color.Red("Сессия: требуется повторный вход (edusync auth login)")
		case app.IsAuthenticated():
			color.Green("Сессия: активна (%s)", app.UserLogin())
		default:
			color.Yellow("Сессия: вход не выполнен")
		}
		fmt.Println()

		switch {
		case combined.IsError():
			color.Red("Обновление не удалось: %s", combined.Message)
		case combined.Stale:
			color.Yellow("Сервер недоступен, кэш от %s", combined.SyncedAt.Local().Format(time.DateTime))
		default:
			color.Green("Кэш актуален")
		}

		for _, k := range kinds {
			coll, _ := app.Collection(k)
			items, err := coll.List(ctx, "")
			if err != nil {
				return err
			}
			pending, offline := 0, 0
			for _, it := range items {
				if it.PendingOp != store.OpNone {
					pending++
				}
				if it.OfflineAvailable {
					offline++
				}
			}
			fmt.Printf("  %-9s %4d записей, %d ждут отправки, %d офлайн\n", k, len(items), pending, offline)
		}

		entries, err := app.Queue().Entries(ctx)
		if err != nil {
			return err
		}
		failed := 0
		for _, e := range entries {
			if e.Status == store.StatusFailed {
				failed++
			}
		}
		fmt.Println()
		fmt.Printf("Очередь синхронизации: %d", len(entries))
		if failed > 0 {
			fmt.Print(color.RedString(" (failed: %d, см. edusync queue list)", failed))
		}
		fmt.Println()

		return nil
	},
}

func init() {
	StatusCmd.Flags().BoolVar(&force, "force", false, "обновить с сервера в любом случае")
}
