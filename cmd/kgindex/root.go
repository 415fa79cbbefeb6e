package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "kgindex",
	Short: "Build entity search indexes over a knowledge graph",
	Long: `kgindex runs the indexing pipeline over an N-Triples graph:

  metrics    compute the importance cascade (and InfoRank) into the fact store
  templates  cluster predicates into weighted fields per scope
  index      render every entity through its template into a connector
  search     index, then answer one or more keyword queries
  export     dump the fact store as N-Triples`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/development.yaml", "path to config file")
	rootCmd.AddCommand(metricsCmd, templatesCmd, indexCmd, searchCmd, exportCmd)
}
