package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	"github.com/mohammad-safakhou/coach/internal/ingest"
	"github.com/mohammad-safakhou/coach/internal/rag"
)

func ingestCMD() *cobra.Command {
	var timeout time.Duration

	var cmd = &cobra.Command{
		Use:   "ingest [url...]",
		Short: "Fetch, chunk and index learning content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			index, err := rag.OpenIndex(cfg.Ingest.IndexPath)
			if err != nil {
				return fmt.Errorf("opening content index: %w", err)
			}
			defer index.Close()

			pipeline := ingest.NewPipeline(cfg, ingest.NewChromeFetcher(cfg), index, nil)
			for _, pageURL := range args {
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				count, err := pipeline.IngestURL(ctx, pageURL)
				cancel()
				if err != nil {
					fmt.Printf("FAILED %s: %v\n", pageURL, err)
					continue
				}
				fmt.Printf("ok %s: %d chunks\n", pageURL, count)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "per-URL deadline")

	return cmd
}
