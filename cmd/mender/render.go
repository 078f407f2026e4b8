package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/JaimeStill/mender/pkg/workflow"
)

var (
	renderTemplate    string
	renderImage       string
	renderInstruction string
	renderDiff        bool
	renderChanges     bool
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Show the workflow a run would submit",
	Long: `Apply an image name and instruction to a template and print the flat
workflow that would be submitted, without contacting the engine.

Examples:
  mender render --image photo.png --instruction "remove the scratches"
  mender render -t upscale --image in.png --diff
  mender render --image in.png --instruction "sharpen" --changes`,
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

		tmpl, err := sys.Get(renderTemplate)
		if err != nil {
			return err
		}

		rendered, err := tmpl.Render(workflow.Overrides{
			Image:       renderImage,
			Instruction: renderInstruction,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch {
		case renderChanges:
			for _, c := range workflow.Diff(tmpl.Document, rendered) {
				fmt.Fprintln(out, c)
			}
			return nil
		case renderDiff:
			before, err := indent(tmpl.Document)
			if err != nil {
				return err
			}
			after, err := indent(rendered)
			if err != nil {
				return err
			}
			writeLineDiff(out, before, after)
			return nil
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rendered)
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderTemplate, "template", "t", "", "template name (default from config)")
	renderCmd.Flags().StringVar(&renderImage, "image", "", "image name the loader node receives")
	renderCmd.Flags().StringVar(&renderInstruction, "instruction", "", "instruction text")
	renderCmd.Flags().BoolVar(&renderDiff, "diff", false, "print a line diff against the template")
	renderCmd.Flags().BoolVar(&renderChanges, "changes", false, "list changed node inputs")
	renderCmd.MarkFlagsMutuallyExclusive("diff", "changes")
	rootCmd.AddCommand(renderCmd)
}

func indent(f workflow.Flat) (string, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}

// writeLineDiff prints b against a with +/- prefixes on changed lines and
// two spaces on unchanged ones.
func writeLineDiff(w io.Writer, a, b string) {
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for line := range strings.Lines(d.Text) {
			fmt.Fprint(w, prefix, line)
		}
	}
}
