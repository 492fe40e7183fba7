package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeGetter answers Get() with a fixed body per hostname, or hangs
// past the caller's deadline for hosts listed in hang.
type fakeGetter struct {
	bodies map[string]string
	errors map[string]error
	hang   map[string]bool
}

func (f fakeGetter) Get(ctx context.Context, url string) (int, string, error) {
	if f.hang[url] {
		<-ctx.Done()
		return 0, "", ctx.Err()
	}
	if err, ok := f.errors[url]; ok {
		return 0, "", err
	}
	return 200, f.bodies[url], nil
}

func TestCMCStageAllOff(t *testing.T) {
	table := NewInfoTable()
	stage := &CMCStage{Getter: fakeGetter{bodies: map[string]string{
		"http://reboot01/status": "off",
		"http://reboot02/status": "off",
	}}}

	remaining := stage.Run(context.Background(), idSet([]int{1, 2}), table, nil)

	assert.Empty(t, remaining)
	for _, id := range []int{1, 2} {
		rec := table.Locate(id)
		assert.Equal(t, "off", rec.CMCOnOff)
		assert.Equal(t, "off", rec.ControlPing)
		assert.Equal(t, "off", rec.ControlSSH)
	}
}

func TestCMCStageOnContinuesToNextStage(t *testing.T) {
	table := NewInfoTable()
	stage := &CMCStage{Getter: fakeGetter{bodies: map[string]string{
		"http://reboot03/status": "on",
	}}}

	remaining := stage.Run(context.Background(), idSet([]int{3}), table, nil)

	assert.Equal(t, map[int]struct{}{3: {}}, remaining)
	rec := table.Locate(3)
	assert.Equal(t, "on", rec.CMCOnOff)
	assert.Empty(t, rec.ControlPing, "padding fields must not be set when the node continues")
}

func TestCMCStageUnexpectedBodyOrErrorBecomesFail(t *testing.T) {
	table := NewInfoTable()
	stage := &CMCStage{Getter: fakeGetter{
		bodies: map[string]string{"http://reboot04/status": "banana"},
		errors: map[string]error{"http://reboot05/status": assertError{"connection refused"}},
	}}
	stage.Run(context.Background(), idSet([]int{4, 5}), table, nil)
	assert.Equal(t, "fail", table.Locate(4).CMCOnOff)
	assert.Equal(t, "off", table.Locate(4).ControlSSH)
	assert.Equal(t, "fail", table.Locate(5).CMCOnOff)
	assert.Equal(t, "off", table.Locate(5).ControlSSH)
}

func TestCMCStageHungProbeClassifiesAsFail(t *testing.T) {
	table := NewInfoTable()
	stage := &CMCStage{Getter: fakeGetter{hang: map[string]bool{"http://reboot05/status": true}}}

	remaining := stage.Run(context.Background(), idSet([]int{5}), table, nil)

	assert.Empty(t, remaining)
	assert.Equal(t, "fail", table.Locate(5).CMCOnOff)
}
