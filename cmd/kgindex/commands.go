package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/connector"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/factstore"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/pipeline"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Compute importance metrics into the fact store",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		rep, err := e.pipeline.RunMetrics(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"run_id":      rep.RunID,
			"facts":       rep.Facts,
			"duration_ms": rep.Duration.Milliseconds(),
		})
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Build document templates from stored metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		set, err := e.pipeline.RunTemplates(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"run_id":   set.RunID,
			"scope":    set.Scope,
			"source":   set.Source.Name(),
			"global":   set.Global,
			"built":    set.Stats.Built,
			"failed":   set.Stats.Failed,
			"out_dir":  e.cfg.Templates.OutputDir,
			"strategy": e.cfg.Templates.TypeCombination,
		})
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build templates and index every entity",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		_, conn, stats, err := buildIndex(cmd, e)
		if err != nil {
			return err
		}
		defer conn.Close()
		return printJSON(cmd.OutOrStdout(), stats)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY [QUERY...]",
	Short: "Index the graph and run keyword queries against it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		set, conn, _, err := buildIndex(cmd, e)
		if err != nil {
			return err
		}
		defer conn.Close()

		queries := make(map[string]string, len(args))
		for _, q := range args {
			queries[q] = q
		}
		s := e.cfg.Search
		results, err := conn.SearchBulk(cmd.Context(), queries, set.Global, s.K1, s.B)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), results)
	},
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the fact store as N-Triples",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := factstore.Open(cfg.FactStore)
		if err != nil {
			return err
		}
		defer store.Close()

		w := cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("creating %s: %w", exportOut, err)
			}
			defer f.Close()
			w = f
		}
		return factstore.ExportNTriples(cmd.Context(), store, w)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "-", "output file, - for stdout")
}

// buildIndex runs the template stage and indexes every entity into the
// configured connector. The connector is returned open.
func buildIndex(cmd *cobra.Command, e *env) (*pipeline.TemplateSet, connector.Connector, pipeline.IndexStats, error) {
	ctx := cmd.Context()
	set, err := e.pipeline.RunTemplates(ctx)
	if err != nil {
		return nil, nil, pipeline.IndexStats{}, err
	}
	conn, err := connector.New(e.cfg.Search.Backend, e.cfg.Search.Limit, e.metrics)
	if err != nil {
		return nil, nil, pipeline.IndexStats{}, err
	}
	stats, err := e.pipeline.RunIndex(ctx, set, conn)
	if err != nil {
		conn.Close()
		return nil, nil, stats, err
	}
	return set, conn, stats, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
