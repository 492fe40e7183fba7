package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEmitBatchSkipsEmptyBatches(t *testing.T) {
	emitter := &RecordingEmitter{}
	EmitBatch(emitter, ChannelNews, nil)
	assert.Empty(t, emitter.All())
}

func TestEmitBatchRecordsNonEmptyBatches(t *testing.T) {
	emitter := &RecordingEmitter{}
	EmitBatch(emitter, ChannelNews, []NodeInfo{{ID: 1}})
	batches := emitter.All()
	assert.Len(t, batches, 1)
	assert.Equal(t, ChannelNews, batches[0].Channel)
	assert.Equal(t, 1, batches[0].Records[0].ID)
}

func TestNewWebsocketEmitterRejectsMalformedURL(t *testing.T) {
	_, err := NewWebsocketEmitter("://not-a-url")
	assert.Error(t, err)
}

func TestNewWebsocketEmitterRejectsURLWithoutPort(t *testing.T) {
	_, err := NewWebsocketEmitter("ws://r2lab.example/")
	assert.Error(t, err)
}

func TestNewWebsocketEmitterAcceptsWellFormedURL(t *testing.T) {
	e, err := NewWebsocketEmitter("ws://r2lab.example:443/")
	assert.NoError(t, err)
	assert.NotNil(t, e)
}

func TestProbeGivesUpAfterConfiguredAttemptsWithoutBlocking(t *testing.T) {
	e, err := NewWebsocketEmitter("ws://127.0.0.1:1/")
	assert.NoError(t, err)

	done := make(chan struct{})
	go func() {
		e.Probe(2, time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Probe must return once its attempt budget is exhausted, not block forever")
	}
}
