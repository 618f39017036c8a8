package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "clipctl",
		Short:         "Rank texts against images with CLIP embeddings",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().Bool("json", false, "Print results as JSON")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); defaults to LOG_LEVEL")

	root.AddCommand(newRankCommand(), newCompareCommand(), newBundleCommand())
	return root
}

// row is one line of ranked output.
type row struct {
	Rank  int     `json:"rank"`
	Index int     `json:"index"`
	Label string  `json:"label,omitempty"`
	Score float32 `json:"score"`
}

func printRows(cmd *cobra.Command, rows []row) error {
	out := cmd.OutOrStdout()
	if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
		return writeJSON(out, rows)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tINDEX\tSCORE\tLABEL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%d\t%.6f\t%s\n", r.Rank, r.Index, r.Score, r.Label)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return nil
}
