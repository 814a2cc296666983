package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"loadpub/internal/pub/counter"
)

func newCountCmd(opts *options) *cobra.Command {
	var (
		topic       string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print how many messages the topic currently retains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if topic == "" {
				topic = cfg.Producer.Topic
			}

			logger, err := newLogger(cfg.Log.Level)
			if err != nil {
				return err
			}
			defer logger.Sync()

			reader := counter.NewKafkaReader(cfg.Producer.Brokers, cfg.Producer.Timeout())
			c, err := counter.NewCounter(reader, logger, concurrency)
			if err != nil {
				return err
			}

			result, err := c.Count(cmd.Context(), topic)
			if err != nil {
				logger.Error("failed to count topic", zap.String("topic", topic), zap.Error(err))
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range result.Partitions {
				fmt.Fprintf(out, "%s:%d\t%d\n", result.Topic, p.Partition, p.Messages())
			}
			fmt.Fprintf(out, "total\t%d\n", result.Total())

			return nil
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "topic to count (defaults to producer.topic)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "partitions queried in parallel")

	return cmd
}
