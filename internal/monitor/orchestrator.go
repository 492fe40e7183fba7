package monitor

import (
	"context"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
)

// Orchestrator runs all three probing stages over the configured node
// population once per cycle, emitting a batch after each stage and
// printing a one-line summary.
type Orchestrator struct {
	AllIDs    []int
	Cycle     time.Duration
	Runs      int // 0 = forever
	MaxIndex  int // 0 = unset, show only observed nodes
	Stages    []Stage
	Table     *InfoTable
	History   *HistoryStore
	Emitter   Emitter
	Output    io.Writer
	clockNow  func() time.Time
	sleepFunc func(time.Duration)
}

// NewOrchestrator wires the three stages in their fixed order: CMC,
// then shell, then ping.
func NewOrchestrator(allIDs []int, cycle time.Duration, runs, maxIndex int, reportWlan bool, emitter Emitter, out io.Writer) *Orchestrator {
	return &Orchestrator{
		AllIDs:   allIDs,
		Cycle:    cycle,
		Runs:     runs,
		MaxIndex: maxIndex,
		Stages: []Stage{
			NewCMCStage(),
			NewShellStage(reportWlan),
			NewPingStage(),
		},
		Table:     NewInfoTable(),
		History:   NewHistoryStore(),
		Emitter:   emitter,
		Output:    out,
		clockNow:  time.Now,
		sleepFunc: time.Sleep,
	}
}

// Run executes cycles until ctx is cancelled or the run budget is
// exhausted, whichever comes first.
func (o *Orchestrator) Run(ctx context.Context) {
	counter := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		o.oneLoop(ctx)
		counter++
		o.History.Tick()

		if o.Runs != 0 && counter >= o.Runs {
			log.WithField("runs", counter).Info("monitor: bailing out after configured run count")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-afterOrSleep(o.sleepFunc, o.Cycle):
		}
	}
}

// afterOrSleep lets tests substitute an instantaneous sleepFunc while
// still returning a channel Run can select on.
func afterOrSleep(sleep func(time.Duration), d time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		sleep(d)
		close(ch)
	}()
	return ch
}

// oneLoop runs the three stages in order: focus -> stage -> emit
// claimed batch -> next stage.
func (o *Orchestrator) oneLoop(ctx context.Context) {
	start := o.clockNow()

	focus := idSet(o.AllIDs)
	var claimedCounts [3]int

	for i, stage := range o.Stages {
		remaining := stage.Run(ctx, focus, o.Table, o.History)
		claimed := subtract(focus, remaining)
		claimedCounts[i] = len(claimed)

		batch := o.Table.Snapshot(claimed)
		EmitBatch(o.Emitter, ChannelNews, batch)
		log.WithField("stage", stage.Name()).WithField("claimed", len(claimed)).Debug("stage done, batch emitted")

		focus = remaining
	}

	if len(focus) != 0 {
		log.WithField("remaining", len(focus)).Warn("OOPS - unexpected remaining nodes after all stages")
	}

	duration := o.clockNow().Sub(start)
	summary := o.summaryLine(claimedCounts, duration)
	fmt.Fprintln(o.Output, summary)
	if f, ok := o.Output.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
}

// oneCharSummary renders one node's status as a single mask character.
func oneCharSummary(info NodeInfo) byte {
	switch {
	case info.CMCOnOff != "" && info.CMCOnOff != "on":
		return '.'
	case info.ControlPing != "" && info.ControlPing != "on":
		return 'o'
	case info.ControlSSH != "" && info.ControlSSH != "on":
		return '0'
	case info.flavour() == "fedora":
		return 'F'
	case info.flavour() == "ubuntu":
		return 'U'
	default:
		return '^'
	}
}

// summaryLine builds the one-line status:
// "<timestamp> monitor <mask> - n1 + n2 + n3 = total - <sec> s <ms> ms"
func (o *Orchestrator) summaryLine(claimed [3]int, duration time.Duration) string {
	timestamp := o.clockNow().Format("01/02 15:04:05")
	mask := o.buildMask()
	total := claimed[0] + claimed[1] + claimed[2]
	seconds := int(duration / time.Second)
	millis := int((duration % time.Second) / time.Millisecond)
	return fmt.Sprintf("%s monitor %s - %d + %d + %d = %d - %d s %d ms",
		timestamp, mask, claimed[0], claimed[1], claimed[2], total, seconds, millis)
}

func (o *Orchestrator) buildMask() string {
	records := o.Table.All()
	if o.MaxIndex <= 0 {
		b := make([]byte, len(records))
		for i, info := range records {
			b[i] = oneCharSummary(info)
		}
		return string(b)
	}

	b := make([]byte, o.MaxIndex)
	for i := range b {
		b[i] = '_'
	}
	for _, info := range records {
		if info.ID >= 1 && info.ID <= o.MaxIndex {
			b[info.ID-1] = oneCharSummary(info)
		}
	}
	return string(b)
}
