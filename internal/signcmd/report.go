package signcmd

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"

	"github.com/lehigh-university-libraries/trafficsign/internal/catalog"
	"github.com/lehigh-university-libraries/trafficsign/internal/config"
	"github.com/lehigh-university-libraries/trafficsign/internal/evaluation"
	"github.com/lehigh-university-libraries/trafficsign/internal/results"
)

func executeReport(cfg config.Config, format string, out io.Writer) error {
	log, err := results.ReadTrainingLog(cfg.TrainingLogPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load training log: %w", err)
	}
	records, err := results.ReadPredictions(cfg.PredictionsPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load predictions: %w", err)
	}
	if len(log) == 0 && len(records) == 0 {
		return fmt.Errorf("no training results in %s: run training first", cfg.OutputDir)
	}

	summary := evaluation.Summarize(records, log)

	switch format {
	case "text":
		evaluation.PrintSummary(out, summary)
		return nil
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summary)
	case "csv":
		return printCSVReport(out, records)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printCSVReport(out io.Writer, records []results.PredictionRecord) error {
	writer := csv.NewWriter(out)

	header := []string{"index", "true_label", "true_meaning", "pred_label", "pred_meaning", "correct"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for i, r := range records {
		row := []string{
			strconv.Itoa(i),
			strconv.Itoa(r.TrueLabel),
			catalog.Label(r.TrueLabel),
			strconv.Itoa(r.PredLabel),
			catalog.Label(r.PredLabel),
			strconv.FormatBool(r.TrueLabel == r.PredLabel),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
