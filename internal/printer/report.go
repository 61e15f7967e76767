package printer

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dyluth/murmur/internal/jobs"
	"github.com/dyluth/murmur/internal/orchestrator"
)

// Report writes the end-of-run summary as plain text.
func Report(w io.Writer, r *orchestrator.Report) {
	fmt.Fprintf(w, "Run %s (%s)\n", shortID(r.RunID), r.Job)
	fmt.Fprintf(w, "  %-12s %s\n", "state:", r.State)
	fmt.Fprintf(w, "  %-12s %s\n", "started:", r.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "  %-12s %s\n", "duration:", r.Duration().Round(time.Second))
	if r.DryRun {
		fmt.Fprintf(w, "  %-12s %s\n", "mode:", "dry run (nothing was changed)")
	}
	fmt.Fprintln(w)

	for _, row := range []struct {
		label string
		n     int
	}{
		{"candidates", r.Candidates},
		{"selected", r.Selected},
		{"attempted", r.Attempted},
		{"succeeded", r.Succeeded},
		{"skipped", r.Skipped},
		{"failed", r.Failed},
	} {
		fmt.Fprintf(w, "  %-12s %d\n", row.label, row.n)
	}

	skips := make(map[string]int, len(r.SkipsByReason))
	for k, v := range r.SkipsByReason {
		skips[k] = v
	}
	breakdown(w, "Skipped by reason", skips)

	failures := make(map[string]int, len(r.FailuresByKind))
	for k, v := range r.FailuresByKind {
		failures[string(k)] = v
	}
	breakdown(w, "Failed by kind", failures)

	warnings := reportWarnings(r)
	if len(warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings:\n")
		for _, warning := range warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}

func reportWarnings(r *orchestrator.Report) []string {
	var out []string
	if r.Cancelled {
		out = append(out, "run was cancelled before every item was processed")
	}
	if r.PossiblyIncomplete {
		msg := "candidate listing may be incomplete"
		if r.EnumerationError != "" {
			msg += ": " + r.EnumerationError
		}
		out = append(out, msg)
	}
	if r.LikelyMisconfigured {
		out = append(out, "the first mutation was denied; check the API key permissions")
	}
	if r.IdentityDegraded {
		out = append(out, "impersonation is unavailable; content was attributed to the default identity")
	}
	return out
}

// Provision writes the summary of an identity provisioning pass.
func Provision(w io.Writer, res *jobs.ProvisionResult, registryPath string) {
	fmt.Fprintf(w, "Identities: %d requested, %d created, %d failed\n", res.Requested, len(res.Created), res.Failed)
	for _, rec := range res.Created {
		fmt.Fprintf(w, "  + %-20s %s\n", rec.Handle, rec.DisplayName)
	}

	failures := make(map[string]int, len(res.FailuresByKind))
	for k, v := range res.FailuresByKind {
		failures[string(k)] = v
	}
	breakdown(w, "Failed by kind", failures)

	if len(res.Created) > 0 && registryPath != "" {
		fmt.Fprintf(w, "\nRegistry written to %s\n", registryPath)
	}
	if res.Cancelled {
		fmt.Fprintf(w, "\nWarnings:\n  - provisioning was cancelled\n")
	}
}

func breakdown(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "\n%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-20s %d\n", k, counts[k])
	}
}

// shortID truncates ids to 8 characters for compact display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
