// Package queue - просмотр и ручное управление очередью синхронизации.
package queue

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"edusync/cmd/client/cmd/types"
	"edusync/internal/app/client/store"
	"edusync/internal/domain/entity"
)

var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Очередь синхронизации",
	Long: `Неподтвержденные сервером изменения.

Операции в статусе failed не повторяются автоматически: их можно
вернуть в очередь (retry) или отбросить (discard).`,
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Показать очередь",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		entries, err := app.Queue().Entries(cmd.Context())
		if err != nil {
			return err
		}
		if types.JSON {
			return types.PrintJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("Очередь пуста")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ТИП\tID\tОПЕРАЦИЯ\tСТАТУС\tПОПЫТОК\tСЛЕДУЮЩАЯ\tОШИБКА")
		for _, e := range entries {
			status := color.YellowString(string(e.Status))
			if e.Status == store.StatusFailed {
				status = color.RedString(string(e.Status))
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
				e.Kind.Singular(), e.ID, e.PendingOp, status, e.RetryCount, nextAttempt(e.NextAttemptAt), e.LastError)
		}
		return w.Flush()
	},
}

var RetryCmd = &cobra.Command{
	Use:   "retry <kind> <id>",
	Short: "Вернуть операцию в очередь",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		kind, id, err := parseTarget(args)
		if err != nil {
			return err
		}

		if err := app.Queue().Retry(cmd.Context(), kind, id); err != nil {
			return err
		}

		res, err := app.SyncOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("✓ Повтор выполнен: отправлено %d, ждут повтора %d, ошибок %d\n", res.Cleared, res.Retrying, res.Failed)
		return nil
	},
}

var DiscardCmd = &cobra.Command{
	Use:   "discard <kind> <id>",
	Short: "Отбросить неподтвержденное изменение",
	Long:  `Возвращает сущность к последней подтвержденной сервером версии.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		kind, id, err := parseTarget(args)
		if err != nil {
			return err
		}

		if err := app.Queue().Discard(cmd.Context(), kind, id); err != nil {
			return err
		}
		fmt.Printf("✓ Изменение %s %d отброшено\n", kind.Singular(), id)
		return nil
	},
}

func parseTarget(args []string) (entity.Kind, int64, error) {
	kind, err := entity.ParseKind(args[0])
	if err != nil {
		return "", 0, err
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("некорректный id %q", args[1])
	}
	return kind, id, nil
}

func nextAttempt(t time.Time) string {
	if t.IsZero() {
		return "сейчас"
	}
	d := time.Until(t)
	if d <= 0 {
		return "сейчас"
	}
	return "через " + d.Round(time.Second).String()
}
