package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	srv "github.com/mohammad-safakhou/coach/internal/server"
)

func serveCMD() *cobra.Command {
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			return srv.Run(cfg)
		},
	}
	return serve
}
