package monitor

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const timeoutPing = 1 * time.Second

// PingStage is the third and final probing pass: a single-packet
// control-network ping for whatever the first two stages didn't claim.
type PingStage struct {
	Runner Runner
}

// NewPingStage returns a PingStage backed by a real subprocess runner.
func NewPingStage() *PingStage {
	return &PingStage{Runner: ExecRunner{}}
}

func (s *PingStage) Name() string { return "ping" }

// Run unconditionally claims every id handed to it, so its return value
// is always empty; the orchestrator treats a non-empty return here as
// an "OOPS" inconsistency, logging a warning without aborting.
func (s *PingStage) Run(ctx context.Context, focus map[int]struct{}, table *InfoTable, _ *HistoryStore) map[int]struct{} {
	for _, id := range sortedIDs(focus) {
		host := fitHostname(id)
		err := CheckCall(ctx, s.Runner, timeoutPing, "ping", "-c", "1", "-t", "1", host)

		if err != nil {
			log.WithField("node", id).WithError(err).Debug("control ping failed")
			table.InsertOrRefine(id, Overlay{"control_ping": "off"})
		} else {
			table.InsertOrRefine(id, Overlay{"control_ping": "on"})
		}
	}
	return map[int]struct{}{}
}
