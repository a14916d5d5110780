package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/internal/cache"
	"github.com/mohammad-safakhou/deepresearch/internal/queue/streams"
)

func eventsCMD() *cobra.Command {
	var cfgPath string
	var group string
	var consumer string
	var count int64
	var follow bool

	var events = &cobra.Command{
		Use:   "events",
		Short: "Read session.completed events from the session stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if !cfg.Storage.Redis.Enabled() {
				return fmt.Errorf("redis not configured (storage.redis.host)")
			}
			ctx := cmd.Context()
			rdb, err := cache.Connect(ctx, cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer rdb.Close()

			reg := streams.NewSchemaRegistry()
			if err := streams.RegisterBaseSchemas(reg); err != nil {
				return err
			}
			if consumer == "" {
				host, _ := os.Hostname()
				consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
			}
			reader, err := streams.NewSessionReader(rdb, reg, cfg.Storage.Redis.SessionStream, group, consumer, logger)
			if err != nil {
				return err
			}
			if err := reader.Join(ctx); err != nil {
				return err
			}

			opts := []streams.ReadOption{streams.WithCount(count)}
			if follow {
				opts = append(opts, streams.WithBlock(5*time.Second))
			}
			for {
				batch, err := reader.Next(ctx, opts...)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				for _, d := range batch {
					ev := d.Session
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d steps\t%d tokens\tforced=%t\t%s\n",
						d.ID, ev.SessionID, ev.Steps, ev.Usage.TotalTokens, ev.Forced, ev.Question)
					if err := reader.Done(ctx, d.ID); err != nil {
						return err
					}
				}
				if !follow {
					return nil
				}
			}
		},
	}
	events.Flags().StringVar(&group, "group", "deepresearch-cli", "consumer group")
	events.Flags().StringVar(&consumer, "consumer", "", "consumer name (default host-pid)")
	events.Flags().Int64Var(&count, "count", 100, "max events per read")
	events.Flags().BoolVarP(&follow, "follow", "f", false, "keep reading new events")
	events.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return events
}
