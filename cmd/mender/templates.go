package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the available workflow templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		sys, err := openTemplates(cfg, logger)
		if err != nil {
			return err
		}

		infos, err := sys.List()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tWORKFLOW\tDESCRIPTION")
		for _, info := range infos {
			name := info.Name
			if info.Default {
				name += " *"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name, info.Workflow, info.Description)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
}
