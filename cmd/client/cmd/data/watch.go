package data

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"edusync/cmd/client/cmd/types"
	"edusync/internal/app/client"
	"edusync/internal/domain/entity"
	"edusync/internal/utils/debounce"
)

func watchCmd(kind entity.Kind) *cobra.Command {
	var filter string

	c := &cobra.Command{
		Use:   "watch",
		Short: "Следить за изменениями в локальном кэше",
		Long: `Печатает выборку при каждом изменении локального кэша.
Серии изменений схлопываются в одну печать (DEBOUNCE_MS).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := types.App(cmd)
			if err != nil {
				return err
			}
			coll, err := app.Collection(kind)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return watch(ctx, app, coll, filter)
		},
	}

	c.Flags().StringVarP(&filter, "filter", "f", "", "фильтр вида field=value[,field=value]")
	return c
}

func watch(ctx context.Context, app *client.App, coll client.Collection, filter string) error {
	rows, err := coll.Observe(ctx, filter)
	if err != nil {
		return err
	}

	// фоновое обновление с сервера, результат придет через Observe
	go func() {
		for range coll.Refresh(ctx, filter, false) {
		}
	}()

	for items := range debounce.Channel(ctx, rows, app.Config().Debounce) {
		fmt.Printf("--- %s (%d) ---\n", coll.Kind(), len(items))
		if err := printItems(items); err != nil {
			return err
		}
	}
	return nil
}
