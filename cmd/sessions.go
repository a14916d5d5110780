package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/internal/store"
)

func sessionsCMD() *cobra.Command {
	var cfgPath string
	var limit int

	withStore := func(cmd *cobra.Command, fn func(st *store.Store) error) error {
		cfg, logger, err := loadConfig(cfgPath)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		st, err := store.Open(cmd.Context(), cfg.Storage.Postgres)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(st)
	}

	var sessions = &cobra.Command{
		Use:   "sessions",
		Short: "Inspect the session archive",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent archived sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				rows, err := st.ListSessions(cmd.Context(), limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCREATED\tTOKENS\tFORCED\tQUESTION")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n", r.ID, r.CreatedAt.Format(time.RFC3339), r.TotalTokens, r.Forced, r.Question)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "rows to show")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one archived session with its trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(st *store.Store) error {
				rec, ok, err := st.GetSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("session %s not found", args[0])
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Question: %s\n\n%s\n\nTrace:\n", rec.Question, rec.Answer)
				for _, e := range rec.Trace {
					fmt.Fprintln(w, "  "+e.String())
				}
				return nil
			})
		},
	}

	sessions.AddCommand(list, show)
	sessions.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return sessions
}
