package repair

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Summary counts actions by outcome.
type Summary struct {
	Repaired  int
	Failed    int
	Skipped   int
	Planned   int
	Heuristic int
}

// Summarize tallies actions.
func Summarize(actions []Action) Summary {
	var s Summary
	for _, a := range actions {
		switch a.Outcome {
		case Repaired:
			s.Repaired++
		case Failed:
			s.Failed++
		case Skipped:
			s.Skipped++
		case Planned:
			s.Planned++
		}
		if a.Heuristic {
			s.Heuristic++
		}
	}
	return s
}

// OK reports whether no action failed.
func (s Summary) OK() bool { return s.Failed == 0 }

// WriteReport prints a human-readable report of the actions.
func WriteReport(w io.Writer, actions []Action, dryRun bool) {
	title := " KEYSPACE REPAIR REPORT"
	if dryRun {
		title += " (dry run)"
	}
	fmt.Fprintln(w, "=========================================================")
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, "=========================================================")

	if len(actions) == 0 {
		fmt.Fprintln(w, "  No mismatched keys found")
	}
	for i, a := range actions {
		after := string(a.After)
		if after == "" {
			after = "-"
		}
		fmt.Fprintf(w, "  [%d] %-40s %-8s %s -> %s\n", i+1, a.Key, strings.ToUpper(string(a.Outcome)), a.Before, after)
		if a.Heuristic {
			fmt.Fprintln(w, "      HEURISTIC: values guessed from aggregate sets")
		}
		if len(a.Fields) > 0 {
			names := make([]string, 0, len(a.Fields))
			for k := range a.Fields {
				names = append(names, k)
			}
			sort.Strings(names)
			parts := make([]string, 0, len(names))
			for _, k := range names {
				parts = append(parts, fmt.Sprintf("%s=%q", k, a.Fields[k]))
			}
			fmt.Fprintf(w, "      fields: %s\n", strings.Join(parts, " "))
		}
		if a.Detail != "" {
			fmt.Fprintf(w, "      %s\n", a.Detail)
		}
	}

	s := Summarize(actions)
	fmt.Fprintln(w, "=========================================================")
	fmt.Fprintf(w, "  repaired=%d failed=%d skipped=%d planned=%d heuristic=%d\n",
		s.Repaired, s.Failed, s.Skipped, s.Planned, s.Heuristic)
	if s.OK() {
		fmt.Fprintln(w, "  OVERALL: PASS")
	} else {
		fmt.Fprintln(w, "  OVERALL: FAIL")
	}
	fmt.Fprintln(w, "=========================================================")
}
