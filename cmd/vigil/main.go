package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kikiluvv/vigil/internal/config"
	"github.com/kikiluvv/vigil/internal/layout"
	"github.com/kikiluvv/vigil/internal/logging"
	"github.com/kikiluvv/vigil/internal/pipeline"
	"github.com/kikiluvv/vigil/internal/reporter"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

var (
	cfgFile string
	verbose bool
	baseDir string
	logFile *os.File
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger := logging.WithComponent("cli")
		if errors.Is(err, context.Canceled) {
			logger.Warn().Msg("Interrupted")
		} else {
			logger.Error().Err(err).Msg("Command failed")
		}
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "vigil",
	Short:         "vigil - violence detection for video",
	Long:          "Extracts training frames, fits a frame classifier on a frozen ONNX backbone and scores videos for violent content.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if baseDir != "" {
			cfg.BaseDir = baseDir
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		if cfg.Logging.File && cmd.Name() != "version" {
			f, err := logging.AttachFile(layout.New(cfg.BaseDir).LogsDir(), cmd.Name())
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			logFile = f
		}

		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", "", "root of the dataset/input/output/model tree")

	predictCmd.Flags().StringVar(&predictVideo, "video", "", "classify a single video instead of the input directory")
	trainCmd.Flags().StringVar(&trainBackbone, "backbone", "", "ONNX feature extractor (default: model/backbone.onnx)")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(versionCmd)
}

// newPipeline builds the pipeline and its collaborators from the command's
// config. The returned cleanup must be called when the command ends.
func newPipeline(cmd *cobra.Command) (*pipeline.Pipeline, func(), error) {
	cfg := config.FromContext(cmd.Context())
	rep := reporter.NewTerminalReporter()

	deps, cleanup, err := buildDeps(cmd.Context(), cfg, log.Logger, rep)
	if err != nil {
		return nil, nil, err
	}
	return pipeline.New(log.Logger, cfg, deps), cleanup, nil
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the directory layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		return pipeline.New(log.Logger, cfg, pipeline.Deps{Reporter: reporter.NewTerminalReporter()}).Setup()
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract training frames from labeled videos",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, cleanup, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		counts, err := pipe.Extract(cmd.Context())
		if err != nil {
			return err
		}
		for label, n := range counts {
			log.Info().Str("label", string(label)).Int("frames", n).Msg("Frames extracted")
		}
		return nil
	},
}

var trainBackbone string

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the frame classifier on extracted frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, cleanup, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := pipe.Train(cmd.Context(), pipeline.TrainOptions{Backbone: trainBackbone})
		if err != nil {
			return err
		}

		fmt.Println(res.Report.String())
		log.Info().
			Str("run_id", res.RunID).
			Str("model", res.ModelDir).
			Dur("elapsed", res.Elapsed).
			Msg("Training complete")
		return nil
	},
}

var predictVideo string

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Classify videos and write the violence report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, cleanup, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		rep, err := pipe.Predict(cmd.Context(), pipeline.PredictOptions{Video: predictVideo})
		if err != nil {
			return err
		}
		if rep == nil {
			return nil
		}
		return rep.WriteText(os.Stdout)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vigil", version)
	},
}
