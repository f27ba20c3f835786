package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lucasnoah/croak/internal/config"
	"github.com/lucasnoah/croak/internal/contract"
	"github.com/lucasnoah/croak/internal/dataset"
	"github.com/lucasnoah/croak/internal/pipeline"
	"github.com/lucasnoah/croak/internal/printer"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <directory>",
	Short: "Scan a directory of images",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := dataset.Scan(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		p := printer.New(cmd.OutOrStdout())
		p.Header("Scanned %s", args[0])
		exts := make([]string, 0, len(res.Formats))
		for ext := range res.Formats {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		rows := make([][]string, 0, len(exts))
		for _, ext := range exts {
			rows = append(rows, []string{ext, fmt.Sprint(res.Formats[ext])})
		}
		p.Table([]string{"Format", "Images"}, rows)

		pairs := [][2]string{{"Images", fmt.Sprint(res.TotalImages)}}
		if s := res.SizeStats; s != nil {
			pairs = append(pairs,
				[2]string{"Smallest", fmt.Sprintf("%dx%d", s.Min.Width, s.Min.Height)},
				[2]string{"Largest", fmt.Sprintf("%dx%d", s.Max.Width, s.Max.Height)},
				[2]string{"Median", fmt.Sprintf("%dx%d", s.Median.Width, s.Median.Height)},
			)
		}
		annotations := "none detected"
		if res.HasAnnotations {
			annotations = res.AnnotationFormat
		}
		pairs = append(pairs, [2]string{"Annotations", annotations})
		p.KeyValues(pairs)

		for _, c := range res.Corrupt {
			p.Failure("corrupt: %s (%s)", c.Path, c.Error)
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the dataset for training readiness",
	Long: `Check images, annotations, class balance and duplicates.

By default the unsplit dataset (data/raw + data/annotations) is checked;
--processed checks the split tree under data/processed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		processed, _ := cmd.Flags().GetBool("processed")
		res, reportPath, err := a.validate(cmd.Context(), processed)
		if err != nil {
			return err
		}

		fmt.Fprint(cmd.OutOrStdout(), dataset.Summary(res))
		if _, err := a.store.Update(func(ps *pipeline.PipelineState) error {
			ps.Artifacts.Dataset.QualityReportPath = reportPath
			for _, w := range res.Warnings {
				ps.AddWarning(w)
			}
			return nil
		}); err != nil {
			return err
		}
		if !res.Passed() {
			return fmt.Errorf("dataset validation failed with %d error(s)", len(res.Errors))
		}
		return nil
	},
}

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split the dataset into train/val/test",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		opts, err := splitOptions(cmd, a.cfg)
		if err != nil {
			return err
		}
		res, err := a.split(opts)
		if err != nil {
			return err
		}
		if _, err := a.store.Update(func(ps *pipeline.PipelineState) error {
			recordSplit(ps, res)
			return nil
		}); err != nil {
			return err
		}
		a.ledger.Event(cmd.Context(), "dataset_split", pipeline.StageDataPreparation, res.Hash)
		printSplit(printer.New(cmd.OutOrStdout()), a, res)
		return nil
	},
}

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Validate, split and hand the dataset off to training",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		started := clock.Now()
		p := printer.New(cmd.OutOrStdout())

		p.Step("Validating dataset")
		res, reportPath, err := a.validate(ctx, false)
		if err != nil {
			return err
		}
		if !res.Passed() {
			fmt.Fprint(cmd.OutOrStdout(), dataset.Summary(res))
			a.recordValidationErrors(res.Errors)
			return fmt.Errorf("dataset validation failed with %d error(s)", len(res.Errors))
		}
		for _, w := range res.Warnings {
			p.Warning("%s", w)
		}

		p.Step("Splitting dataset")
		opts, err := splitOptions(cmd, a.cfg)
		if err != nil {
			return err
		}
		split, err := a.split(opts)
		if err != nil {
			return err
		}
		printSplit(p, a, split)

		p.Step("Writing data handoff")
		handoffs, err := a.handoffs()
		if err != nil {
			return err
		}
		handoffPath, err := handoffs.CreateData(contract.DataHandoff{
			DatasetPath:      split.OutputDir,
			Format:           a.cfg.Data.Format,
			DataYAMLPath:     split.DataYAML,
			Splits:           map[string]int{"train": split.Train, "val": split.Val, "test": split.Test},
			Classes:          split.Classes,
			Statistics:       res.Statistics,
			ValidationPassed: true,
			DatasetHash:      split.Hash,
		})
		if err != nil {
			return err
		}
		a.ledger.Event(ctx, "handoff_created", pipeline.StageDataPreparation, handoffPath)

		if _, err := a.store.Update(func(ps *pipeline.PipelineState) error {
			recordSplit(ps, split)
			ps.Artifacts.Dataset.Format = a.cfg.Data.Format
			ps.Artifacts.Dataset.QualityReportPath = reportPath
			for _, w := range res.Warnings {
				ps.AddWarning(w)
			}
			a.finishStage(ctx, ps, pipeline.StageDataPreparation, started, map[string]string{
				"data_yaml": split.DataYAML,
				"handoff":   handoffPath,
			})
			return nil
		}); err != nil {
			return err
		}

		p.Success("Data preparation complete. Handoff: %s", a.paths.Rel(handoffPath))
		p.Step("Next: croak train")
		return nil
	},
}

// validate runs the validator over the raw or processed layout and writes
// the quality report next to the dataset.
func (a *app) validate(ctx context.Context, processed bool) (*dataset.ValidationResult, string, error) {
	layout := dataset.RawLayout(a.paths.DataDir())
	if processed {
		layout = dataset.ProcessedLayout(a.paths.ProcessedDir())
	}
	v := dataset.NewValidator(layout, validationThresholds(a.cfg.Validation), logger)
	res, err := v.Validate(ctx)
	if err != nil {
		return nil, "", err
	}
	reportPath := filepath.Join(a.paths.DataDir(), "quality_report.yaml")
	if err := pipeline.WriteYAML(reportPath, res.Report(), ""); err != nil {
		return nil, "", fmt.Errorf("write quality report: %w", err)
	}
	return res, reportPath, nil
}

// recordValidationErrors adds errs to the state. A failed save is logged
// and does not replace the validation failure the caller reports.
func (a *app) recordValidationErrors(errs []string) {
	if _, err := a.store.Update(func(ps *pipeline.PipelineState) error {
		for _, e := range errs {
			ps.AddError(e)
		}
		return nil
	}); err != nil {
		logger.Warn("recording validation errors", "err", err)
	}
}

func (a *app) split(opts dataset.SplitOptions) (*dataset.SplitResult, error) {
	return dataset.NewSplitter(a.paths.DataDir(), logger).Split(opts)
}

func validationThresholds(c config.ValidationConfig) dataset.Thresholds {
	t := dataset.DefaultThresholds()
	t.MinImages = c.MinImages
	t.MinInstancesPerClass = c.MinInstancesPerClass
	t.MaxImbalanceRatio = c.MaxImbalanceRatio
	t.MinImageSize = c.MinImageSize
	t.MaxImageSize = c.MaxImageSize
	return t
}

// splitOptions starts from the project config and applies any flags given.
func splitOptions(cmd *cobra.Command, cfg *config.ProjectConfig) (dataset.SplitOptions, error) {
	opts := dataset.SplitOptions{
		TrainRatio: cfg.Data.TrainSplit,
		ValRatio:   cfg.Data.ValSplit,
		TestRatio:  cfg.Data.TestSplit,
		Seed:       int64(cfg.Data.Seed),
		Stratify:   cfg.StratifyEnabled(),
		ClassNames: cfg.Data.Classes,
	}
	flags := cmd.Flags()
	if flags.Changed("train") {
		opts.TrainRatio, _ = flags.GetFloat64("train")
	}
	if flags.Changed("val") {
		opts.ValRatio, _ = flags.GetFloat64("val")
	}
	if flags.Changed("test") {
		opts.TestRatio, _ = flags.GetFloat64("test")
	}
	if flags.Changed("seed") {
		opts.Seed, _ = flags.GetInt64("seed")
	}
	if noStratify, _ := flags.GetBool("no-stratify"); noStratify {
		opts.Stratify = false
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

func recordSplit(ps *pipeline.PipelineState, res *dataset.SplitResult) {
	ps.DataYAMLPath = res.DataYAML
	ps.Artifacts.Dataset.Path = res.OutputDir
	ps.Artifacts.Dataset.Checksum = res.Hash
	ps.Artifacts.Dataset.Classes = res.Classes
	ps.Artifacts.Dataset.Splits = map[string]int{"train": res.Train, "val": res.Val, "test": res.Test}
}

func printSplit(p *printer.Printer, a *app, res *dataset.SplitResult) {
	p.Table([]string{"Split", "Images"}, [][]string{
		{"train", fmt.Sprint(res.Train)},
		{"val", fmt.Sprint(res.Val)},
		{"test", fmt.Sprint(res.Test)},
		{"total", fmt.Sprint(res.Total)},
	})
	mode := "random"
	if res.Stratified {
		mode = "stratified"
	}
	p.KeyValues([][2]string{
		{"Classes", strings.Join(res.Classes, ", ")},
		{"Mode", fmt.Sprintf("%s (seed %d)", mode, res.Seed)},
		{"Manifest", a.paths.Rel(res.DataYAML)},
		{"Hash", res.Hash},
	})
}

func addSplitFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("train", 0.8, "train ratio")
	cmd.Flags().Float64("val", 0.15, "validation ratio")
	cmd.Flags().Float64("test", 0.05, "test ratio")
	cmd.Flags().Int64("seed", 42, "random seed")
	cmd.Flags().Bool("no-stratify", false, "split randomly instead of by primary class")
}

func init() {
	validateCmd.Flags().Bool("processed", false, "validate data/processed instead of the raw dataset")
	addSplitFlags(splitCmd)
	addSplitFlags(prepareCmd)
}
