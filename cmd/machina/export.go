package main

import (
	"github.com/spf13/cobra"

	"github.com/tobiaswade/machina"
	"github.com/tobiaswade/machina/export"
)

func newExportCmd() *cobra.Command {
	var pretty bool
	var tree bool
	cmd := &cobra.Command{
		Use:   "export <definition>",
		Short: "Export the normalized definition document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			m, err := machina.NewMachine(cfg, stubOptions(cfg))
			if err != nil {
				return err
			}
			if tree {
				cmd.Print(export.Tree(m.Definition()))
				return nil
			}
			return export.JSON(m.Definition(), export.Options{
				PrettyPrint: pretty,
				Output:      cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON output")
	cmd.Flags().BoolVar(&tree, "tree", false, "render a plain-text state tree instead of JSON")
	return cmd
}
