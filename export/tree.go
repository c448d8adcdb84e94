package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tobiaswade/machina"
)

// Tree renders the definition document as an indented state tree with the
// transitions declared on each node. Intended for terminal inspection.
func Tree(doc *machina.DefinitionDocument) string {
	var b strings.Builder
	writeNode(&b, doc, doc.Key, 0)
	return b.String()
}

func writeNode(b *strings.Builder, doc *machina.DefinitionDocument, key string, depth int) {
	indent := strings.Repeat("  ", depth)
	label := key
	if label == "" {
		label = doc.ID
	}
	fmt.Fprintf(b, "%s%s", indent, label)

	var markers []string
	if doc.Type != "atomic" && doc.Type != "compound" {
		markers = append(markers, doc.Type)
	}
	if doc.History != "" && doc.History != "none" {
		markers = append(markers, doc.History)
	}
	if doc.Initial != "" {
		markers = append(markers, "initial: "+doc.Initial)
	}
	if len(markers) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(markers, ", "))
	}
	b.WriteByte('\n')

	for _, event := range sortedEvents(doc) {
		for _, t := range doc.On[event] {
			name := event
			if name == "" {
				name = "<always>"
			}
			fmt.Fprintf(b, "%s  %s", indent, name)
			if t.Forbidden {
				b.WriteString(" (forbidden)\n")
				continue
			}
			if len(t.Target) > 0 {
				fmt.Fprintf(b, " -> %s", strings.Join(t.Target, ", "))
			}
			if t.Guard != "" {
				fmt.Fprintf(b, " [%s]", t.Guard)
			}
			if t.Internal && len(t.Target) > 0 {
				b.WriteString(" (internal)")
			}
			b.WriteByte('\n')
		}
	}

	for _, childKey := range childOrder(doc) {
		writeNode(b, doc.States[childKey], childKey, depth+1)
	}
}

func sortedEvents(doc *machina.DefinitionDocument) []string {
	events := make([]string, 0, len(doc.On))
	for event := range doc.On {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func childOrder(doc *machina.DefinitionDocument) []string {
	if len(doc.StateOrder) == len(doc.States) {
		return doc.StateOrder
	}
	keys := make([]string, 0, len(doc.States))
	for k := range doc.States {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
