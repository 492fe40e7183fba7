package monitor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// Stage is the shape shared by the three probing passes: given the set
// of ids still in play, mutate the table (and, for the shell stage, the
// history), and return the ids it did not claim.
type Stage interface {
	// Name identifies the stage in logs ("cmc", "shell", "ping").
	Name() string
	// Run probes every id in focus, updates table/history, and returns
	// the subset of focus it did not claim this cycle.
	Run(ctx context.Context, focus map[int]struct{}, table *InfoTable, history *HistoryStore) map[int]struct{}
}

// rebootHostname returns "reboot{id:02d}", the chassis-controller hostname.
func rebootHostname(id int) string {
	return fmt.Sprintf("reboot%02d", id)
}

// fitHostname returns "fit{id:02d}", the node's control hostname.
func fitHostname(id int) string {
	return fmt.Sprintf("fit%02d", id)
}

var digitsMatcher = regexp.MustCompile(`[0-9]+`)

// NormalizeNodeArg parses one CLI positional argument into a node id.
// It accepts a bare integer or any string containing digits (e.g.
// "fit07" -> 7), and returns ok=false for anything that doesn't contain
// a digit run, in which case the caller should discard it and keep
// going rather than fail the whole invocation.
func NormalizeNodeArg(arg string) (id int, ok bool) {
	match := digitsMatcher.FindString(arg)
	if match == "" {
		log.WithField("arg", arg).Warn("discarded malformed node argument")
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil || n <= 0 {
		log.WithField("arg", arg).Warn("discarded malformed node argument")
		return 0, false
	}
	return n, true
}

// idSet builds a set out of a slice of ids, used throughout the
// orchestrator and stages to represent a focus set.
func idSet(ids []int) map[int]struct{} {
	s := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// subtract returns a \ b.
func subtract(a, b map[int]struct{}) map[int]struct{} {
	out := make(map[int]struct{}, len(a))
	for id := range a {
		if _, inB := b[id]; inB {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

// sortedIDs returns the ids of a set in ascending order, for stable
// iteration where stage logic wants deterministic ordering (tests rely
// on this too).
func sortedIDs(s map[int]struct{}) []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
