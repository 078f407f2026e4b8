package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/JaimeStill/mender/pkg/engine"
	"github.com/JaimeStill/mender/pkg/formatting"
	"github.com/JaimeStill/mender/pkg/lifecycle"
	"github.com/JaimeStill/mender/pkg/tracing"
)

var (
	runTemplate    string
	runImage       string
	runInstruction string
	runOutput      string
	runNoDownload  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a template on a local image",
	Long: `Upload an image to the engine, run a template with the instruction and
save the result image.

Progress is printed on stderr. The result is written to --output, or to the
engine's file name in the current directory.

Examples:
  mender run --image old.jpg --instruction "repair the torn corner"
  mender run -t upscale --image small.png -o large.png
  mender run --image old.jpg --instruction "colorize" --no-download`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		sys, err := openTemplates(cfg, logger)
		if err != nil {
			return err
		}
		tmpl, err := sys.Get(runTemplate)
		if err != nil {
			return err
		}

		tp, err := tracing.New(&cfg.Tracing, logger)
		if err != nil {
			return err
		}
		client, err := engine.NewClient(&cfg.Engine, logger)
		if err != nil {
			return err
		}

		lc := lifecycle.New()
		if err := tp.Start(lc); err != nil {
			return err
		}
		defer lc.Shutdown(5 * time.Second)

		runner := engine.NewRunner(client, cfg.Engine.TimeoutDuration(), logger,
			engine.WithTracerProvider(tp.TracerProvider()))

		f, err := os.Open(runImage)
		if err != nil {
			return err
		}
		defer f.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		stderr := cmd.ErrOrStderr()
		result, err := runner.Process(ctx, tmpl,
			engine.Image{Name: filepath.Base(runImage), Body: f},
			runInstruction,
			engine.OnSubmitted(func(id string) {
				fmt.Fprintf(stderr, "submitted %s\n", id)
			}),
			engine.OnProgress(func(p engine.Progress) {
				if p.Max > 0 {
					fmt.Fprintf(stderr, "progress %d/%d\n", p.Value, p.Max)
				}
			}),
		)
		if err != nil {
			if errors.Is(err, context.Canceled) && result != nil && result.Job != nil && result.Job.PromptID != "" {
				fmt.Fprintf(stderr, "stopped watching %s; it stays on the engine\n", result.Job.PromptID)
			}
			return err
		}

		fmt.Fprintf(stderr, "result %s\n", result.Artifact.Filename)
		if runNoDownload {
			return nil
		}

		return save(ctx, runner, result, runOutput, cmd.OutOrStdout())
	},
}

func init() {
	runCmd.Flags().StringVarP(&runTemplate, "template", "t", "", "template name (default from config)")
	runCmd.Flags().StringVar(&runImage, "image", "", "path of the input image")
	runCmd.Flags().StringVar(&runInstruction, "instruction", "", "instruction text")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "where to write the result image")
	runCmd.Flags().BoolVar(&runNoDownload, "no-download", false, "report the result without fetching it")
	_ = runCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(runCmd)
}

func save(ctx context.Context, runner *engine.Runner, result *engine.Result, output string, stdout io.Writer) error {
	d, err := runner.View(ctx, result.Artifact)
	if err != nil {
		return err
	}
	defer d.Body.Close()

	if output == "" {
		output = filepath.Base(result.Artifact.Filename)
	}

	out, err := os.Create(output)
	if err != nil {
		return err
	}

	n, err := io.Copy(out, d.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}

	fmt.Fprintf(stdout, "%s (%s)\n", output, formatting.FormatBytes(n, 1))
	return nil
}
