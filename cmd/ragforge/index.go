package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hieutrtr/ragforge/config"
	"github.com/hieutrtr/ragforge/internal/index"
)

func indexCMD() *cobra.Command {
	var cfgPath string
	var batchSize int
	var idx = &cobra.Command{
		Use:   "index [file.jsonl]",
		Short: "Ingest pre-chunked passages into the local index",
		Long: `Reads one JSON object per line ({"id", "content", "source", "title"})
and indexes it into the local bleve index. Only the bleve backend supports
local ingestion.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Index.Backend != "bleve" {
				return fmt.Errorf("index backend %q does not support local ingestion", cfg.Index.Backend)
			}

			bleveIdx, err := index.NewBleveIndex(cfg.Index.Bleve.Path)
			if err != nil {
				return err
			}
			defer bleveIdx.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()

			ctx := context.Background()
			var batch []index.Document
			total := 0
			lineNo := 0
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
			for scanner.Scan() {
				lineNo++
				line := scanner.Bytes()
				if len(line) == 0 {
					continue
				}
				var doc index.Document
				if err := json.Unmarshal(line, &doc); err != nil {
					return fmt.Errorf("line %d: %w", lineNo, err)
				}
				if doc.ID == "" {
					doc.ID = fmt.Sprintf("doc_%d", lineNo)
				}
				batch = append(batch, doc)
				if len(batch) >= batchSize {
					if err := bleveIdx.Add(ctx, batch); err != nil {
						return err
					}
					total += len(batch)
					batch = batch[:0]
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			if len(batch) > 0 {
				if err := bleveIdx.Add(ctx, batch); err != nil {
					return err
				}
				total += len(batch)
			}

			count, err := bleveIdx.Count()
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d passages (%d total in index)\n", total, count)
			return nil
		},
	}
	idx.Flags().IntVar(&batchSize, "batch", 100, "passages per index batch")
	idx.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./ragforge.yaml)")

	return idx
}
