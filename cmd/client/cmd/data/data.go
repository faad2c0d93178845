// Package data - команды работы с сущностями, по одной группе на семейство.
package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"edusync/cmd/client/cmd/types"
	"edusync/internal/app/client"
	"edusync/internal/app/client/store"
	"edusync/internal/domain/entity"
	"edusync/internal/resource"
)

// Commands - группа команд для каждого семейства: user, course, quiz, message
func Commands() []*cobra.Command {
	kinds := entity.Kinds()
	out := make([]*cobra.Command, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, kindCmd(k))
	}
	return out
}

func kindCmd(kind entity.Kind) *cobra.Command {
	c := &cobra.Command{
		Use:     kind.Singular(),
		Aliases: []string{string(kind)},
		Short:   fmt.Sprintf("Работа с %s", kind),
	}

	c.AddCommand(
		listCmd(kind),
		getCmd(kind),
		createCmd(kind),
		updateCmd(kind),
		deleteCmd(kind),
		offlineCmd(kind),
		watchCmd(kind),
	)
	return c
}

func collection(cmd *cobra.Command, kind entity.Kind) (client.Collection, error) {
	app, err := types.App(cmd)
	if err != nil {
		return nil, err
	}
	return app.Collection(kind)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректный id %q", s)
	}
	return id, nil
}

func listCmd(kind entity.Kind) *cobra.Command {
	var (
		filter  string
		refresh bool
		force   bool
	)

	c := &cobra.Command{
		Use:   "list",
		Short: "Список из локального кэша",
		Long: `Выводит сущности из локального кэша.

С --refresh кэш обновляется с сервера, если он старше порога свежести;
--force обновляет всегда. Если сервер недоступен, выводится кэш
с пометкой о его возрасте.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			coll, err := collection(cmd, kind)
			if err != nil {
				return err
			}

			if !refresh && !force {
				items, err := coll.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				return printItems(items)
			}

			res := resource.Last(cmd.Context(), coll.Refresh(cmd.Context(), filter, force))
			if res.IsError() {
				return res.Err
			}
			if res.Stale {
				color.Yellow("⚠️  Сервер недоступен, данные из кэша (возраст %s)", res.Age(time.Now()).Round(time.Second))
			}
			return printItems(res.Data)
		},
	}

	c.Flags().StringVarP(&filter, "filter", "f", "", "фильтр вида field=value[,field=value]")
	c.Flags().BoolVarP(&refresh, "refresh", "r", false, "обновить с сервера, если кэш устарел")
	c.Flags().BoolVar(&force, "force", false, "обновить с сервера в любом случае")
	return c
}

func getCmd(kind entity.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Показать одну сущность",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, err := collection(cmd, kind)
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			item, err := coll.Get(cmd.Context(), id)
			if errors.Is(err, entity.ErrNotFound) {
				return fmt.Errorf("%s %d не найден", kind.Singular(), id)
			}
			if err != nil {
				return err
			}
			return types.PrintJSON(item)
		},
	}
}

func createCmd(kind entity.Kind) *cobra.Command {
	var (
		body string
		wait time.Duration
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Создать сущность",
		Long: `Создает сущность локально под временным id и отправляет на сервер.
Если сервер недоступен, создание останется в очереди синхронизации.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			coll, err := collection(cmd, kind)
			if err != nil {
				return err
			}
			data, err := readBody(body)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			stream, err := coll.Create(ctx, data)
			if err != nil {
				return err
			}
			return follow(ctx, stream)
		},
	}

	c.Flags().StringVarP(&body, "data", "d", "", "JSON объект; @file читает из файла, - из stdin")
	c.Flags().DurationVar(&wait, "wait", 10*time.Second, "сколько ждать подтверждения сервера")
	_ = c.MarkFlagRequired("data")
	return c
}

func updateCmd(kind entity.Kind) *cobra.Command {
	var (
		body string
		wait time.Duration
	)

	c := &cobra.Command{
		Use:   "update <id>",
		Short: "Изменить сущность",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, err := collection(cmd, kind)
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			data, err := readBody(body)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			stream, err := coll.Update(ctx, id, data)
			if err != nil {
				return err
			}
			return follow(ctx, stream)
		},
	}

	c.Flags().StringVarP(&body, "data", "d", "", "JSON объект целиком; @file читает из файла, - из stdin")
	c.Flags().DurationVar(&wait, "wait", 10*time.Second, "сколько ждать подтверждения сервера")
	_ = c.MarkFlagRequired("data")
	return c
}

func deleteCmd(kind entity.Kind) *cobra.Command {
	var wait time.Duration

	c := &cobra.Command{
		Use:   "delete <id>",
		Short: "Удалить сущность",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, err := collection(cmd, kind)
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			return follow(ctx, coll.Delete(ctx, id))
		},
	}

	c.Flags().DurationVar(&wait, "wait", 10*time.Second, "сколько ждать подтверждения сервера")
	return c
}

func offlineCmd(kind entity.Kind) *cobra.Command {
	var off bool

	c := &cobra.Command{
		Use:   "offline <id>",
		Short: "Сохранить для офлайн режима",
		Long: `Помечает сущность для офлайн режима: она не удаляется при очистке кэша,
а связанные данные (тесты курса, сообщения пользователя) загружаются заранее.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, err := collection(cmd, kind)
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			if err := coll.SetOfflineAvailable(cmd.Context(), id, !off); err != nil {
				return err
			}
			if off {
				fmt.Printf("✓ %s %d больше не хранится для офлайн режима\n", kind.Singular(), id)
			} else {
				fmt.Printf("✓ %s %d доступен офлайн\n", kind.Singular(), id)
			}
			return nil
		},
	}

	c.Flags().BoolVar(&off, "off", false, "снять отметку")
	return c
}

// follow печатает состояния мутации, пока не придет итог или не истечет ожидание
func follow(ctx context.Context, stream <-chan resource.Resource[client.Item]) error {
	var (
		optimistic bool
		final      client.Item
		done       bool
	)

	err := resource.Collect(ctx, stream, resource.Handlers[client.Item]{
		OnSuccess: func(item client.Item) {
			if !optimistic {
				optimistic = true
				if item.PendingOp != store.OpNone {
					fmt.Printf("✓ Сохранено локально (id %d), отправка на сервер...\n", item.ID)
					return
				}
			}
			final, done = item, true
		},
	})

	switch {
	case err == nil && done:
		color.Green("✓ Синхронизировано с сервером (id %d)", final.ID)
		if types.JSON {
			return types.PrintJSON(final)
		}
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		color.Yellow("⏳ Сервер пока недоступен, изменение в очереди синхронизации (edusync queue list)")
		return nil
	default:
		return err
	}
}

func readBody(body string) (json.RawMessage, error) {
	var (
		raw []byte
		err error
	)

	switch {
	case body == "-":
		raw, err = io.ReadAll(os.Stdin)
	case len(body) > 0 && body[0] == '@':
		raw, err = os.ReadFile(body[1:])
	default:
		raw = []byte(body)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения данных: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("данные должны быть JSON объектом")
	}
	return raw, nil
}

func printItems(items []client.Item) error {
	if types.JSON {
		return types.PrintJSON(items)
	}
	if len(items) == 0 {
		fmt.Println("Записи не найдены")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tСТАТУС\tСИНХР.\tОФЛАЙН\tДАННЫЕ")
	for _, it := range items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			it.ID,
			statusLabel(it),
			syncedLabel(it.LastSyncAt),
			offlineLabel(it.OfflineAvailable),
			brief(it.Data),
		)
	}
	return w.Flush()
}

func statusLabel(it client.Item) string {
	switch {
	case it.Status == store.StatusFailed:
		return color.RedString("failed")
	case it.PendingOp != store.OpNone:
		return color.YellowString("pending %s", it.PendingOp)
	default:
		return color.GreenString("synced")
	}
}

func syncedLabel(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String() + " назад"
}

func offlineLabel(on bool) string {
	if on {
		return "да"
	}
	return ""
}

func brief(data json.RawMessage) string {
	const limit = 60
	s := string(data)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
