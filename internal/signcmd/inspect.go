package signcmd

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/lehigh-university-libraries/trafficsign/internal/catalog"
	"github.com/lehigh-university-libraries/trafficsign/internal/config"
	"github.com/lehigh-university-libraries/trafficsign/internal/dataset"
)

func executeInspect(cfg config.Config, saveManifest bool, out io.Writer) error {
	loader := dataset.NewLoader(cfg.DatasetDir, dataset.Options{
		MinImages:         cfg.MinImages,
		TrainFraction:     cfg.TrainFraction,
		ImageSize:         cfg.ImageSize,
		FailOnDecodeError: cfg.FailOnDecodeError,
	})
	split, err := loader.Load()
	if err != nil {
		return err
	}

	if saveManifest {
		if err := dataset.WriteManifest(cfg.ManifestPath(), split.Manifest); err != nil {
			return fmt.Errorf("failed to save manifest: %w", err)
		}
		slog.Info("Saved dataset manifest", "path", cfg.ManifestPath(), "entries", len(split.Manifest))
	}

	fmt.Fprintf(out, "Dataset: %s\n", cfg.DatasetDir)
	fmt.Fprintln(out, strings.Repeat("=", 80))
	fmt.Fprintf(out, "%-5s %-45s %6s %6s %6s %6s  %s\n", "ID", "Label", "Found", "Train", "Test", "Failed", "Note")
	fmt.Fprintln(out, strings.Repeat("-", 80))
	for _, cs := range split.Summary.Classes {
		fmt.Fprintf(out, "%05d %-45s %6d %6d %6d %6d  %s\n",
			cs.ClassID, cs.Label, cs.Discovered, cs.Train, cs.Test, cs.Failed, cs.Reason)
	}
	fmt.Fprintln(out, strings.Repeat("-", 80))
	fmt.Fprintf(out, "Classes loaded: %d of %d\n", split.Summary.ClassesLoaded, len(split.Summary.Classes))
	fmt.Fprintf(out, "Train samples:  %d\n", split.Summary.TrainSamples)
	fmt.Fprintf(out, "Test samples:   %d\n", split.Summary.TestSamples)
	return nil
}

func executeInspectManifest(path string, out io.Writer) error {
	entries, err := dataset.ReadManifest(path)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	type counts struct{ train, test int }
	byClass := map[int]*counts{}
	for _, e := range entries {
		c, ok := byClass[int(e.ClassID)]
		if !ok {
			c = &counts{}
			byClass[int(e.ClassID)] = c
		}
		if dataset.Partition(e.Partition) == dataset.PartitionTest {
			c.test++
		} else {
			c.train++
		}
	}

	ids := make([]int, 0, len(byClass))
	for id := range byClass {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fmt.Fprintf(out, "Manifest: %s (%d images)\n", path, len(entries))
	fmt.Fprintln(out, strings.Repeat("=", 80))
	fmt.Fprintf(out, "%-5s %-45s %6s %6s\n", "ID", "Label", "Train", "Test")
	fmt.Fprintln(out, strings.Repeat("-", 80))
	for _, id := range ids {
		c := byClass[id]
		fmt.Fprintf(out, "%05d %-45s %6d %6d\n", id, catalog.Label(id), c.train, c.test)
	}
	return nil
}
