package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/research"
	"github.com/mohammad-safakhou/researcher/internal/server"
	"github.com/mohammad-safakhou/researcher/internal/telemetry"
)

func main() {
	var root = &cobra.Command{Use: "researcher"}

	root.AddCommand(serveCMD(), runCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD() *cobra.Command {
	var cfgPath string
	var addr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return server.Run(cfg)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return serve
}

func runCMD() *cobra.Command {
	var cfgPath string
	var output string
	var reportType string
	var tone string
	var words int
	var guidelines []string
	var sources []string

	var run = &cobra.Command{
		Use:   "run [query]",
		Short: "Run one research task and write the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")

			logger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
			tele := telemetry.NewTelemetry(cfg.Telemetry)
			r, err := research.New(cfg, logger, tele)
			if err != nil {
				return err
			}

			params := research.ReportParams{
				Type:              research.ResearchReport,
				Tone:              tone,
				Guidelines:        guidelines,
				EnforceGuidelines: len(guidelines) > 0,
				TotalWords:        words,
				SourceURLs:        sources,
			}
			if reportType != "" {
				params.Type = research.ReportType(reportType)
			}

			// Buffered so a slow terminal never stalls the pipeline
			progress := research.NewBufferedSink(research.SinkFunc(func(ev research.Event) {
				fmt.Fprintln(cmd.ErrOrStderr(), ev.Message)
			}), 64)
			defer progress.Close()

			result, err := r.Run(context.Background(), query, params, progress)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				fmt.Fprintln(cmd.OutOrStdout(), result.Report)
			} else {
				if err := os.WriteFile(output, []byte(result.Report), 0o644); err != nil {
					return fmt.Errorf("writing report: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "report written to %s\n", output)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "sources: %d, images: %d, cost: $%.4f\n",
				len(result.Sources), len(result.Images), result.Costs)
			return nil
		},
	}
	run.Flags().StringVarP(&output, "output", "o", "", "report output file (default stdout)")
	run.Flags().StringVar(&reportType, "type", "", "report type (research_report, subtopic_report)")
	run.Flags().StringVar(&tone, "tone", "", "report tone")
	run.Flags().IntVar(&words, "words", 0, "target word count (overrides config)")
	run.Flags().StringArrayVar(&guidelines, "guideline", nil, "writing guideline (repeatable, enables the review loop)")
	run.Flags().StringArrayVar(&sources, "url", nil, "research only these URLs (repeatable, skips search)")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return run
}
