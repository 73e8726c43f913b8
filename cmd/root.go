package cmd

import (
	"errors"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/trafficsign/internal/signcmd"
)

// ErrNoAction is returned when the root command is run without --train or
// --predict.
var ErrNoAction = errors.New("specify either --train or --predict <image_path>")

func NewRootCmd() *cobra.Command {
	g := &signcmd.Globals{}
	var train bool
	var predict string

	cmd := &cobra.Command{
		Use:   "trafficsign",
		Short: "Traffic sign recognition on the GTSRB dataset",
		Long: `Trafficsign trains a small convolutional network on the German Traffic Sign
Recognition Benchmark and classifies single sign images with it.

Run with --train to train, or --predict <image_path> to classify an image
with a previously trained model.`,
		Example: `  trafficsign --train
  trafficsign --predict ./GTSRB/Training/00014/00000_00000.ppm`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			level := slog.LevelInfo
			if g.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case train:
				cfg, err := g.Config()
				if err != nil {
					return err
				}
				return signcmd.ExecuteTrain(cfg, cmd.OutOrStdout())
			case predict != "":
				cfg, err := g.Config()
				if err != nil {
					return err
				}
				return signcmd.ExecutePredict(cmd.Context(), cfg, predict, cmd.OutOrStdout())
			default:
				cmd.Println("Specify either --train or --predict <image_path>")
				_ = cmd.Usage()
				return ErrNoAction
			}
		},
	}

	g.Register(cmd)
	cmd.Flags().BoolVar(&train, "train", false, "Train the model on the GTSRB dataset")
	cmd.Flags().StringVar(&predict, "predict", "", "Path to an image for prediction")
	cmd.MarkFlagsMutuallyExclusive("train", "predict")

	// Add subcommands
	cmd.AddCommand(signcmd.NewTrainCmd(g))
	cmd.AddCommand(signcmd.NewPredictCmd(g))
	cmd.AddCommand(signcmd.NewInspectCmd(g))
	cmd.AddCommand(signcmd.NewReportCmd(g))
	cmd.AddCommand(signcmd.NewDownloadCmd(g))
	cmd.AddCommand(newServeCmd(g))

	return cmd
}
