package signcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lehigh-university-libraries/trafficsign/internal/config"
	"github.com/lehigh-university-libraries/trafficsign/internal/images"
	"github.com/lehigh-university-libraries/trafficsign/internal/inference"
	"github.com/lehigh-university-libraries/trafficsign/internal/results"
	"github.com/lehigh-university-libraries/trafficsign/internal/training"
)

// ExecuteTrain runs a training pass and prints its one-line summary.
func ExecuteTrain(cfg config.Config, out io.Writer) error {
	res, err := training.New(cfg).Train()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, res.Message)
	return err
}

// ExecutePredict classifies the image at path, which may be an http(s)
// URL, and prints the result as indented JSON.
func ExecutePredict(ctx context.Context, cfg config.Config, path string, out io.Writer) error {
	predictor := inference.New(cfg)

	var result *results.InferenceResult
	var err error
	if images.IsURL(path) {
		if err = predictor.CheckModel(); err != nil {
			return err
		}
		var data []byte
		data, err = images.NewFetcher().Fetch(ctx, path)
		if err != nil {
			return err
		}
		result, err = predictor.PredictReader(bytes.NewReader(data), path)
	} else {
		result, err = predictor.Predict(path)
	}
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
