package endpoints

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/shrinkify/internal/home"
	"github.com/jackzampolin/shrinkify/internal/pipeline"
	"github.com/jackzampolin/shrinkify/internal/prompt"
	"github.com/jackzampolin/shrinkify/internal/sheet"
)

// runFlags are the CLI flags shared by commands that submit a run config.
type runFlags struct {
	industry     string
	productType  string
	charLimit    int
	columns      []string
	examplesFile string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.industry, "industry", "", "industry of the advertiser (required)")
	cmd.Flags().StringVar(&f.productType, "product-type", "", "kind of product in the feed (required)")
	cmd.Flags().IntVar(&f.charLimit, "char-limit", prompt.DefaultCharLimit, "maximum short title length; a slightly lower value than required works best")
	cmd.Flags().StringSliceVar(&f.columns, "columns", nil, "context columns (default: the columns of the examples sheet)")
	cmd.Flags().StringVar(&f.examplesFile, "examples", "", "edited examples sheet (.xlsx)")
}

// config builds a run config for dataset.table from the flags and the
// examples sheet, if any.
func (f *runFlags) config(dataset, table string) (pipeline.Config, error) {
	cfg := pipeline.Config{
		Industry:      f.industry,
		ProductType:   f.productType,
		CharLimit:     f.charLimit,
		SourceDataset: dataset,
		SourceTable:   table,
		Columns:       f.columns,
	}
	if f.examplesFile == "" {
		return cfg, nil
	}

	file, err := os.Open(f.examplesFile)
	if err != nil {
		return cfg, fmt.Errorf("failed to open examples sheet: %w", err)
	}
	defer file.Close()

	cols, examples, err := sheet.Read(file)
	if err != nil {
		return cfg, err
	}
	if len(cfg.Columns) == 0 {
		cfg.Columns = cols
	}
	cfg.Examples = examples
	return cfg, nil
}

// homeDir resolves the --home flag inherited from the root command.
func homeDir(cmd *cobra.Command) (*home.Dir, error) {
	path := ""
	if fl := cmd.Flag("home"); fl != nil {
		path = fl.Value.String()
	}
	return home.New(path)
}
