package signcmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/trafficsign/internal/config"
	"github.com/lehigh-university-libraries/trafficsign/internal/dataset"
)

// Globals holds the persistent flags shared by every command.
type Globals struct {
	ConfigPath string
	DatasetDir string
	OutputDir  string
	Seed       uint64
	Verbose    bool
}

// Register adds the persistent flags to cmd.
func (g *Globals) Register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&g.ConfigPath, "config", "", "Path to a YAML config file")
	flags.StringVar(&g.DatasetDir, "dataset", "", "GTSRB training directory (default GTSRB/Training)")
	flags.StringVar(&g.OutputDir, "output-dir", "", "Directory for the log, reports and model (default .)")
	flags.Uint64Var(&g.Seed, "seed", 0, "Seed for weight init, shuffling and sampling (0 for random)")
	flags.BoolVar(&g.Verbose, "verbose", false, "Verbose logging")
}

// Config loads the config file and environment, then applies flags.
func (g *Globals) Config() (config.Config, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if g.DatasetDir != "" {
		cfg.DatasetDir = g.DatasetDir
	}
	if g.OutputDir != "" {
		cfg.OutputDir = g.OutputDir
	}
	if g.Seed != 0 {
		cfg.Seed = g.Seed
	}
	return cfg, cfg.Validate()
}

// NewTrainCmd creates the train command
func NewTrainCmd(g *Globals) *cobra.Command {
	var epochs int

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the classifier on the GTSRB training set",
		Long: `Loads every class directory under the dataset root, splits each class
80/20 into train and test images, trains the network and writes:

  training_log.json   rewritten after every epoch
  predictions.json    five random test images with true and predicted labels
  model.json.zst      the trained model`,
		Example: `  # Train with the defaults
  trafficsign train --dataset ./GTSRB/Training

  # Reproducible short run
  trafficsign train --epochs 3 --seed 42 --output-dir ./out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Config()
			if err != nil {
				return err
			}
			if epochs > 0 {
				cfg.Epochs = epochs
			}
			return ExecuteTrain(cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&epochs, "epochs", 0, "Override the number of training epochs")

	return cmd
}

// NewPredictCmd creates the predict command
func NewPredictCmd(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict <image>",
		Short: "Classify one image with the trained model",
		Long: `Classifies a single image (ppm, png or jpeg) with the model written by
train, prints the result and saves it to prediction_result.json. The image
may also be an http(s) URL.`,
		Example: `  trafficsign predict ./GTSRB/Training/00014/00000_00000.ppm
  trafficsign predict https://example.com/stop-sign.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Config()
			if err != nil {
				return err
			}
			return ExecutePredict(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
		},
	}

	return cmd
}

// NewInspectCmd creates the inspect command
func NewInspectCmd(g *Globals) *cobra.Command {
	var manifestPath string
	var saveManifest bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the dataset without training",
		Long: `Loads the dataset exactly as train does and prints per-class image counts,
the train/test split and the reason any class was skipped.

With --manifest, reads a previously written dataset_manifest.parquet instead
of decoding images.`,
		Example: `  # Check a dataset before training
  trafficsign inspect --dataset ./GTSRB/Training

  # Also write the parquet manifest
  trafficsign inspect --save-manifest

  # Summarize an existing manifest
  trafficsign inspect --manifest ./dataset_manifest.parquet`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Config()
			if err != nil {
				return err
			}
			if manifestPath != "" {
				return executeInspectManifest(manifestPath, cmd.OutOrStdout())
			}
			return executeInspect(cfg, saveManifest, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Summarize this parquet manifest instead of loading images")
	cmd.Flags().BoolVar(&saveManifest, "save-manifest", false, "Write dataset_manifest.parquet to the output directory")
	cmd.MarkFlagsMutuallyExclusive("manifest", "save-manifest")

	return cmd
}

// NewReportCmd creates the report command
func NewReportCmd(g *Globals) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report on the last training run",
		Long: `Reads training_log.json and predictions.json from the output directory and
prints the final epoch, sample prediction accuracy and any misclassifications.`,
		Example: `  trafficsign report
  trafficsign report --format csv > predictions.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Config()
			if err != nil {
				return err
			}
			switch format {
			case "text", "json", "csv":
			default:
				return fmt.Errorf("unsupported format: %s", format)
			}
			return executeReport(cfg, format, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, json, or csv)")

	return cmd
}

// NewDownloadCmd creates the download command
func NewDownloadCmd(g *Globals) *cobra.Command {
	var url string
	var cacheDir string
	var force bool

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and unpack the GTSRB training images",
		Long: `Downloads the GTSRB training archive (cached between runs) and extracts
its class directories into the dataset directory.`,
		Example: `  # Install into the default GTSRB/Training
  trafficsign download

  # Install elsewhere, ignoring the cache
  trafficsign download --dataset /data/gtsrb --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Config()
			if err != nil {
				return err
			}
			d := dataset.NewDownloader(dataset.DownloadConfig{
				URL:           url,
				CacheDir:      cacheDir,
				ForceDownload: force,
			})
			n, err := d.Install(cmd.Context(), cfg.DatasetDir)
			if err != nil {
				return err
			}
			slog.Info("Dataset ready", "root", cfg.DatasetDir, "files", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", dataset.ArchiveURL, "Archive URL")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", dataset.DefaultCacheDir, "Directory for the downloaded archive")
	cmd.Flags().BoolVar(&force, "force", false, "Download even if the archive is cached")

	return cmd
}
