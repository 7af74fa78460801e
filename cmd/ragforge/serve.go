package main

import (
	"github.com/spf13/cobra"

	"github.com/hieutrtr/ragforge/config"
	srv "github.com/hieutrtr/ragforge/internal/server"
	"github.com/hieutrtr/ragforge/internal/store"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}

			eng, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.telemetry.Shutdown()

			st, err := store.New(cfg.Storage)
			if err != nil {
				return err
			}
			defer st.Close()

			return srv.New(cfg, eng.orchestrator, st, eng.index, eng.telemetry).Start()
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./ragforge.yaml)")

	return serve
}
