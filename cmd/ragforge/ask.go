package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hieutrtr/ragforge/config"
)

func askCMD() *cobra.Command {
	var cfgPath string
	var showEvidence bool
	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question from the command line",
		Args:  cobra.MinimumNArgs(1),
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

			ctx := context.Background()
			if cfg.General.TurnTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.General.TurnTimeout)
				defer cancel()
			}

			aggregate, err := eng.orchestrator.Answer(ctx, strings.Join(args, " "), nil)
			if err != nil {
				return err
			}

			fmt.Println(aggregate.Answer)
			if showEvidence {
				fmt.Printf("\n-- tools: %v, sufficient: %t\n", aggregate.ToolsUsed, aggregate.Sufficient)
				for i, p := range aggregate.MergedPassages {
					fmt.Printf("[%d] (%.3f) %s\n", i+1, p.Score, p.Content)
				}
			}
			return nil
		},
	}
	ask.Flags().BoolVar(&showEvidence, "evidence", false, "print supporting passages and turn details")
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./ragforge.yaml)")

	return ask
}
