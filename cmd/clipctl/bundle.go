package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"clip-demo/internal/app"
	"clip-demo/internal/embeddings"
	"clip-demo/internal/model"
)

func newBundleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Manage model bundles",
	}
	cmd.AddCommand(newBundleInitCommand(), newBundleShowCommand())
	return cmd
}

func newBundleInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init DIR",
		Short: "Write a bundle manifest for a remote encoder",
		Args:  cobra.ExactArgs(1),
		RunE:  runBundleInit,
	}
	cmd.Flags().String("kind", "", "Encoder kind (image, text)")
	cmd.Flags().String("name", "", "Bundle name (defaults to the directory name)")
	cmd.Flags().String("provider", app.ProviderRemote, "Model provider")
	cmd.Flags().String("endpoint", "", "OpenAI-compatible base URL, e.g. http://localhost:8000/v1/")
	cmd.Flags().String("model", "", "Model name sent to the endpoint")
	cmd.Flags().Int("dimension", 512, "Embedding dimension")
	cmd.Flags().Int("input-size", 0, "Square input side in pixels for image encoders (0 = 224)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func runBundleInit(cmd *cobra.Command, args []string) error {
	m := model.Manifest{}
	kind, _ := cmd.Flags().GetString("kind")
	m.Kind = embeddings.Kind(kind)
	m.Name, _ = cmd.Flags().GetString("name")
	m.Provider, _ = cmd.Flags().GetString("provider")
	m.Endpoint, _ = cmd.Flags().GetString("endpoint")
	m.Model, _ = cmd.Flags().GetString("model")
	m.Dimension, _ = cmd.Flags().GetInt("dimension")
	m.InputSize, _ = cmd.Flags().GetInt("input-size")

	if err := model.WriteManifest(args[0], m); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s bundle to %s\n", m.Kind, args[0])
	return nil
}

func newBundleShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show DIR",
		Short: "Validate a bundle and print its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := model.ReadManifest(args[0])
			if err != nil {
				return err
			}
			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				return writeJSON(cmd.OutOrStdout(), m)
			}
			size := m.ImageSize()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:      %s\n", m.Name)
			fmt.Fprintf(out, "kind:      %s\n", m.Kind)
			fmt.Fprintf(out, "provider:  %s\n", m.Provider)
			fmt.Fprintf(out, "model:     %s\n", m.Model)
			fmt.Fprintf(out, "dimension: %d\n", m.Dimension)
			if m.Kind == embeddings.KindImage {
				fmt.Fprintf(out, "input:     %dx%d\n", size.X, size.Y)
			}
			return nil
		},
	}
}
