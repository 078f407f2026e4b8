package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JaimeStill/mender/pkg/workflow"
)

var (
	normalizeStrict bool
	normalizeTypes  bool
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize <file>",
	Short: "Convert a workflow document to the flat shape",
	Long: `Convert a workflow document, editor graph or flat, to the flat shape the
engine accepts and print it as JSON.

Skipped links and node types without a positional field list are reported on
stderr, followed by a node and link count. With --strict, a link to a missing
node or slot is an error. With --types, the node types that have a built-in
positional field list are printed instead.

Examples:
  mender normalize templates/restore.json
  mender normalize --strict export.json | jq 'keys'
  mender normalize --types`,
	Args: func(cmd *cobra.Command, args []string) error {
		if normalizeTypes {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := workflow.DefaultRegistry()
		if normalizeTypes {
			for _, t := range registry.Types() {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		doc, err := workflow.Parse(data)
		if err != nil {
			return err
		}

		n := &workflow.Normalizer{Registry: registry, Strict: normalizeStrict}
		flat, report, err := n.NormalizeReport(doc)
		if err != nil {
			return err
		}

		stderr := cmd.ErrOrStderr()
		for _, s := range report.Skipped {
			fmt.Fprintf(stderr, "skipped link: %+v\n", s)
		}
		for _, t := range report.UnknownTypes {
			fmt.Fprintf(stderr, "unknown node type: %s\n", t)
		}
		fmt.Fprintf(stderr, "%d nodes, %d links\n", len(flat), len(flat.Refs()))

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(flat)
	},
}

func init() {
	normalizeCmd.Flags().BoolVar(&normalizeTypes, "types", false, "list node types with a built-in field list")
	normalizeCmd.Flags().BoolVar(&normalizeStrict, "strict", false, "reject links to missing nodes or slots")
	rootCmd.AddCommand(normalizeCmd)
}
