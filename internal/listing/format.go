package listing

import (
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/dyluth/murmur/pkg/forum"
)

// FormatTable writes topics as a table with columns ID, CATEGORY, CREATED,
// FLAGS and TITLE (truncated). Returns the number of topics formatted.
func FormatTable(w io.Writer, topics []forum.ContentUnit) int {
	if len(topics) == 0 {
		fmt.Fprintf(w, "No topics found\n")
		return 0
	}

	fmt.Fprintf(w, "%-8s %-24s %-10s %-5s %s\n", "ID", "CATEGORY", "CREATED", "FLAGS", "TITLE")
	fmt.Fprintf(w, "%-8s %-24s %-10s %-5s %s\n",
		"--------", "------------------------", "----------", "-----", "------------------------------------------------")

	for _, t := range topics {
		fmt.Fprintf(w, "%-8s %-24s %-10s %-5s %s\n",
			t.ID,
			truncate(t.Category, 24),
			formatDate(t),
			formatFlags(t),
			truncate(t.Title, 48),
		)
	}

	noun := "topic"
	if len(topics) != 1 {
		noun = "topics"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(topics), noun)
	return len(topics)
}

// FormatJSONL writes each topic as a single JSON object on its own line.
func FormatJSONL(w io.Writer, topics []forum.ContentUnit) error {
	enc := json.NewEncoder(w)
	for _, t := range topics {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("failed to write topic %s: %w", t.ID, err)
		}
	}
	return nil
}

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	if s == "" {
		return "-"
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}

func formatDate(t forum.ContentUnit) string {
	if t.CreatedAt.IsZero() {
		return "-"
	}
	return t.CreatedAt.UTC().Format("2006-01-02")
}

// formatFlags shows C for closed and A for archived topics.
func formatFlags(t forum.ContentUnit) string {
	flags := ""
	if t.Closed {
		flags += "C"
	}
	if t.Archived {
		flags += "A"
	}
	if flags == "" {
		return "-"
	}
	return flags
}
