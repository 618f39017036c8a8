package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"clip-demo/internal/app"
	"clip-demo/internal/imaging"
	"clip-demo/internal/session"
)

func newCompareCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Encode an image and several texts, then rank the texts by similarity",
		Example: `  clipctl compare --image cat.jpg --text "a photo of a cat" --text "a photo of a car"
  clipctl compare --image-model ./models/ImageEncoder_float32.bundle --text-model ./models/TextEncoder_float32.bundle --image cat.jpg --text cat --text car`,
		Args: cobra.NoArgs,
		RunE: runCompare,
	}
	cmd.Flags().String("image-model", "", "Image encoder bundle directory (defaults to IMAGE_MODEL_PATH)")
	cmd.Flags().String("text-model", "", "Text encoder bundle directory (defaults to TEXT_MODEL_PATH)")
	cmd.Flags().String("image", "", "Image file to encode")
	cmd.Flags().StringArray("text", nil, fmt.Sprintf("Text to encode; repeat at least %d times", session.MinTexts))
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func runCompare(cmd *cobra.Command, _ []string) error {
	imageModel, _ := cmd.Flags().GetString("image-model")
	textModel, _ := cmd.Flags().GetString("text-model")
	imagePath, _ := cmd.Flags().GetString("image")
	texts, _ := cmd.Flags().GetStringArray("text")
	level, _ := cmd.Flags().GetString("log-level")

	if len(texts) < session.MinTexts {
		return fmt.Errorf("need at least %d --text values, got %d", session.MinTexts, len(texts))
	}

	deps, err := app.BuildCLI(level)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := deps.Close(); cerr != nil {
			deps.Log.Warn("failed to release dependencies", "err", cerr)
		}
	}()

	if imageModel == "" {
		imageModel = deps.Config.ImageModelPath
	}
	if textModel == "" {
		textModel = deps.Config.TextModelPath
	}

	ctx := cmd.Context()
	s := deps.Sessions.Create()
	if err := s.LoadModels(ctx, imageModel, textModel); err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	img, _, err := imaging.Decode(f, deps.Config.MaxImagePixels)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode %s: %w", imagePath, err)
	}
	if _, err := s.EncodeImage(ctx, img, filepath.Base(imagePath)); err != nil {
		return err
	}
	for _, t := range texts {
		if _, err := s.EncodeText(ctx, t); err != nil {
			return fmt.Errorf("encode %q: %w", t, err)
		}
	}

	ranking, err := s.Distances(0)
	if err != nil {
		return err
	}
	rows := make([]row, len(ranking.Distances))
	for i, d := range ranking.Distances {
		rows[i] = row{Rank: d.Rank, Index: d.TextIndex, Label: d.Text, Score: d.Score}
	}
	return printRows(cmd, rows)
}
