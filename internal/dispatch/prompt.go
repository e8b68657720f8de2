package dispatch

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const filePreviewLimit = 2048

// contextSize sums note bytes plus decoded file bytes, the quantity
// max_context_bytes bounds.
func contextSize(c Context) int {
	total := 0
	for _, n := range c.Notes {
		total += len(n)
	}
	for _, f := range c.Files {
		if f.Base64 {
			if decoded, err := base64.StdEncoding.DecodeString(f.Content); err == nil {
				total += len(decoded)
				continue
			}
		}
		total += len(f.Content)
	}
	return total
}

// buildUserPrompt assembles the objective, context notes, and file
// enumeration into a single user-role prompt string.
func buildUserPrompt(objective string, c Context, metadata map[string]any) string {
	var b strings.Builder
	b.WriteString("Objective:\n")
	b.WriteString(objective)
	b.WriteString("\n")

	if len(c.Notes) > 0 {
		b.WriteString("\nContext notes:\n")
		for i, note := range c.Notes {
			fmt.Fprintf(&b, "%d. %s\n", i+1, note)
		}
	}

	if len(c.Files) > 0 {
		b.WriteString("\nFiles:\n")
		for _, f := range c.Files {
			b.WriteString("- ")
			b.WriteString(f.Title)
			if f.Path != "" {
				fmt.Fprintf(&b, " (%s)", f.Path)
			}
			if f.Base64 {
				b.WriteString(": [base64 content omitted]\n")
				continue
			}
			preview := f.Content
			if utf8.ValidString(preview) && len(preview) > filePreviewLimit {
				preview = preview[:filePreviewLimit]
			}
			b.WriteString(":\n")
			b.WriteString(preview)
			b.WriteString("\n")
		}
	}

	if len(metadata) > 0 {
		keys := make([]string, 0, len(metadata))
		for k := range metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nMetadata:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, metadata[k])
		}
	}

	return b.String()
}
