package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tobiaswade/machina"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition>",
		Short: "Validate a statechart definition document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			m, err := machina.NewMachine(cfg, stubOptions(cfg))
			if err != nil {
				var verr *machina.ValidationError
				if errors.As(err, &verr) {
					for _, issue := range verr.Issues {
						fmt.Fprintln(cmd.OutOrStdout(), issue.String())
					}
					return fmt.Errorf("%d fatal issue(s)", len(verr.Fatal()))
				}
				return err
			}
			for _, issue := range m.Warnings() {
				fmt.Fprintln(cmd.OutOrStdout(), issue.String())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: machine %q, %d states, %d events\n",
				m.ID(), len(m.Root().Definition().States), len(m.Events()))
			return nil
		},
	}
}
