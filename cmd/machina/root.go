package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tobiaswade/machina"
)

var verbose bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "machina",
		Short: "Inspect and simulate statechart definitions",
		Long: `machina loads statechart definitions from YAML or JSON documents and
validates, exports or interactively simulates them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newValidateCmd(), newExportCmd(), newSimCmd())
	return root
}

// loadConfig reads a definition document, choosing the parser from the
// file extension.
func loadConfig(path string) (*machina.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return machina.FromJSON(data)
	default:
		return machina.FromYAML(data)
	}
}

// stubOptions registers pass-through implementations for every action,
// guard and service name the definition references, so option-free
// documents can still be compiled and simulated. Activities and named
// delays are not stubbed.
func stubOptions(cfg *machina.Config) machina.Options[map[string]any] {
	opts := machina.Options[map[string]any]{
		Actions:  map[string]machina.Action[map[string]any]{},
		Guards:   map[string]machina.Guard[map[string]any]{},
		Services: map[string]machina.Service[map[string]any]{},
	}
	var walk func(states map[string]*machina.StateConfig)
	collectActions := func(specs []machina.ActionSpec) {
		for _, spec := range specs {
			if !strings.HasPrefix(spec.Type, "xstate.") {
				name := spec.Type
				opts.Actions[name] = machina.Do(func(ctx map[string]any, event machina.Event) {
					slog.Debug("stub action", "action", name, "event", event.Name)
				})
			}
		}
	}
	collectTransitions := func(specs map[string]*machina.TransitionsSpec) {
		for _, spec := range specs {
			if spec == nil {
				continue
			}
			for _, t := range spec.List {
				collectActions(t.Actions)
				if t.Guard != "" {
					opts.Guards[t.Guard] = func(map[string]any, machina.Event) (bool, error) {
						return true, nil
					}
				}
			}
		}
	}
	collect := func(sc *machina.StateConfig) {
		collectActions(sc.Entry)
		collectActions(sc.Exit)
		collectTransitions(sc.On)
		collectTransitions(sc.After)
		for _, inv := range sc.Invoke {
			opts.Services[inv.Src] = func(map[string]any, machina.Event) (any, error) {
				return nil, nil
			}
		}
	}
	walk = func(states map[string]*machina.StateConfig) {
		for _, sc := range states {
			if sc == nil {
				continue
			}
			collect(sc)
			walk(sc.States)
		}
	}
	collect(&machina.StateConfig{
		Entry: cfg.Entry, Exit: cfg.Exit, On: cfg.On, After: cfg.After, Invoke: cfg.Invoke,
	})
	walk(cfg.States)
	return opts
}
