// Package export renders normalized machine definition documents for
// external tooling: visualizer-compatible JSON and a plain-text state
// tree for terminals.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/tobiaswade/machina"
)

// Options configures document rendering.
type Options struct {
	// PrettyPrint enables indented JSON output.
	PrettyPrint bool
	// Indent is the indentation string (default two spaces).
	Indent string
	// Output is where the document is written (default os.Stdout).
	Output io.Writer
}

// JSON writes the definition document as JSON.
func JSON(doc *machina.DefinitionDocument, opts Options) error {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var data []byte
	var err error
	if opts.PrettyPrint {
		indent := opts.Indent
		if indent == "" {
			indent = "  "
		}
		data, err = json.MarshalIndent(doc, "", indent)
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	if _, err := out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write definition: %w", err)
	}
	return nil
}
