package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pankerit/vetamin/sinks/durablestream"
	"github.com/pankerit/vetamin/sinks/sqlite"
)

type historyOptions struct {
	root *rootOptions

	sqlitePath string
	streamURL  string
	after      int64
	limit      int
}

func newHistoryCommand(root *rootOptions) *cobra.Command {
	opts := &historyOptions{root: root}

	cmd := &cobra.Command{
		Use:   "history [OPTIONS] [SESSION|STORE]",
		Short: "Show what a persistent sink recorded",
		Long: `Show what a persistent sink recorded.

With --sqlite-path and no argument, list the recorded sessions. With a
session id, list the actions of that session.

With --stream-url, list the latest session of the named store.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arg string
			if len(args) > 0 {
				arg = args[0]
			}
			return runHistory(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, arg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.sqlitePath, "sqlite-path", "vetamin.db", "Database file written by the sqlite sink")
	flags.StringVar(&opts.streamURL, "stream-url", "", "Base stream URL written by the durablestream sink")
	flags.Int64Var(&opts.after, "after", 0, "Only list actions after this position")
	flags.IntVar(&opts.limit, "limit", 0, "Maximum number of actions to list (0 for all)")

	return cmd
}

func runHistory(ctx context.Context, stdout, stderr io.Writer, opts *historyOptions, arg string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := opts.root.logger(stderr)
	if err != nil {
		return err
	}

	if opts.streamURL != "" {
		if arg == "" {
			return errors.New("a store name is required with --stream-url")
		}
		return streamHistory(ctx, stdout, opts, logger, arg)
	}

	sink, err := sqlite.New(opts.sqlitePath)
	if err != nil {
		return err
	}
	defer sink.Close()

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if arg == "" {
		sessions, err := sink.Sessions(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "SESSION\tSTORE\tCREATED\tCLOSED\tINITIAL")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", s.ID, s.Name, formatTime(s.CreatedAt), formatTime(s.ClosedAt), s.Initial)
		}
		return nil
	}

	records, err := sink.Records(ctx, arg, opts.after, opts.limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "POSITION\tACTION\tTIME\tSTATE")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%v\n", r.Position, r.Action, formatTime(r.Timestamp), r.State)
	}
	return nil
}

func streamHistory(ctx context.Context, stdout io.Writer, opts *historyOptions, logger *slog.Logger, name string) error {
	sink, err := durablestream.New(opts.streamURL, durablestream.WithLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn)))
	if err != nil {
		return err
	}
	messages, err := sink.History(ctx, name)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "OPERATION\tACTION\tTIME\tSTATE")
	for _, m := range messages {
		state, err := m.State()
		if err != nil {
			return err
		}
		action := m.Headers.Action
		if action == "" {
			action = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", m.Headers.Operation, action, formatTime(m.Time()), state)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
