package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tobiaswade/machina"
)

func newSimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sim <definition>",
		Short: "Interactively simulate a machine, one event per line",
		Long: `sim starts an interpreter over the definition and reads event names from
stdin, printing the state value after each macrostep. Named actions,
guards and services are stubbed: guards pass, actions log at debug level.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			m, err := machina.NewMachine(cfg, stubOptions(cfg))
			if err != nil {
				return err
			}

			interp := machina.NewInterpreter(m)
			defer interp.Stop()
			state, err := interp.Start()
			if err != nil {
				return err
			}
			printState(cmd, state)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				name := strings.TrimSpace(scanner.Text())
				if name == "" || name == "quit" || name == "exit" {
					break
				}
				state, err = interp.Send(name)
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "rejected:", err)
					continue
				}
				printState(cmd, state)
				if state.Done {
					fmt.Fprintln(cmd.OutOrStdout(), "machine reached a final state")
					break
				}
			}
			return scanner.Err()
		},
	}
}

func printState(cmd *cobra.Command, state machina.State[map[string]any]) {
	fmt.Fprintf(cmd.OutOrStdout(), "state: %s", state.Value.String())
	if len(state.NextEvents()) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "  (next: %s)", strings.Join(state.NextEvents(), ", "))
	}
	fmt.Fprintln(cmd.OutOrStdout())
}
