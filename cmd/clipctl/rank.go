package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"clip-demo/internal/embeddings"
	"clip-demo/internal/ranker"
)

// vectorFile is the input of `clipctl rank`.
type vectorFile struct {
	Subject    embeddings.Vector   `json:"subject"`
	Candidates []embeddings.Vector `json:"candidates"`
	Labels     []string            `json:"labels"`
}

func newRankCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank candidate vectors from a JSON file against its subject",
		Args:  cobra.NoArgs,
		RunE:  runRank,
	}
	cmd.Flags().StringP("file", "f", "", "JSON file with subject, candidates and optional labels")
	cmd.Flags().String("metric", string(ranker.Cosine), "Similarity metric (cosine, euclidean)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runRank(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")
	metricName, _ := cmd.Flags().GetString("metric")

	metric, err := ranker.ParseMetric(metricName)
	if err != nil {
		return err
	}
	in, err := readVectorFile(path)
	if err != nil {
		return err
	}

	results, err := ranker.RankWith(metric, in.Subject, in.Candidates)
	if err != nil {
		return err
	}
	rows := make([]row, len(results))
	for i, r := range results {
		rows[i] = row{Rank: i + 1, Index: r.Index, Score: r.Score}
		if len(in.Labels) > 0 {
			rows[i].Label = in.Labels[r.Index]
		}
	}
	return printRows(cmd, rows)
}

func readVectorFile(path string) (vectorFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vectorFile{}, fmt.Errorf("read %s: %w", path, err)
	}
	var in vectorFile
	if err := json.Unmarshal(data, &in); err != nil {
		return vectorFile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(in.Labels) > 0 && len(in.Labels) != len(in.Candidates) {
		return vectorFile{}, fmt.Errorf("%s: %d labels for %d candidates", path, len(in.Labels), len(in.Candidates))
	}
	return in, nil
}
