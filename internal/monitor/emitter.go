package monitor

import (
	"encoding/json"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/r2lab/sidecar-monitor/util"
)

// Channel names recognized by the sidecar bus.
const (
	ChannelNews       = "r2lab-news"
	ChannelSignalling = "r2lab-signalling"
)

// Emitter fires a batch of records at a named channel, fire-and-forget.
// Nothing about its failure may propagate into the orchestrator.
type Emitter interface {
	Emit(channel string, records []NodeInfo)
}

// EmitBatch hands records (a JSON array, table order preserved by the
// caller) to emitter, skipping empty batches so stages and the
// orchestrator never build the JSON payload themselves.
func EmitBatch(emitter Emitter, channel string, records []NodeInfo) {
	if len(records) == 0 {
		return
	}
	emitter.Emit(channel, records)
}

// RecordingEmitter is a test double: it stores every batch it receives,
// in receipt order, and never fails.
type RecordingEmitter struct {
	mu      sync.Mutex
	Batches []RecordedBatch
}

// RecordedBatch is one call to Emit, captured for assertions.
type RecordedBatch struct {
	Channel string
	Records []NodeInfo
}

func (e *RecordingEmitter) Emit(channel string, records []NodeInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]NodeInfo, len(records))
	copy(cp, records)
	e.Batches = append(e.Batches, RecordedBatch{Channel: channel, Records: cp})
}

// All returns every batch recorded so far.
func (e *RecordingEmitter) All() []RecordedBatch {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RecordedBatch, len(e.Batches))
	copy(out, e.Batches)
	return out
}

// WebsocketEmitter publishes batches to the sidecar over a websocket
// connection; connection state is entirely this type's concern (the
// r2lab-news channel is used for regular batches, r2lab-signalling is
// accepted in config but unused here). Connection loss is logged at
// most once per backoff window and otherwise swallowed — updates may be lost, never
// delivered with retry pressure pushed back onto the cycle.
type WebsocketEmitter struct {
	url      string
	clientID string

	mu   sync.Mutex
	conn *websocket.Conn

	dialer      *websocket.Dialer
	backoff     util.Backoff
	lastWarnLog time.Time
}

// NewWebsocketEmitter builds an emitter targeting sidecarURL
// (scheme://host:port). The constructor does not connect; the
// connection is opened by Probe or by the first Emit, and neither blocks
// the monitor from starting its first cycle when the sidecar is
// unreachable.
func NewWebsocketEmitter(sidecarURL string) (*WebsocketEmitter, error) {
	u, err := url.Parse(sidecarURL)
	if err != nil {
		return nil, err
	}
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		return nil, errors.Errorf("sidecar url %q must specify an explicit host:port", sidecarURL)
	}
	return &WebsocketEmitter{
		url:      sidecarURL,
		clientID: uuid.NewString(),
		dialer:   websocket.DefaultDialer,
		backoff:  util.NewBackoff(200*time.Millisecond, 10*time.Second),
	}, nil
}

func (e *WebsocketEmitter) ensureConn() (*websocket.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return e.conn, nil
	}
	conn, _, err := e.dialer.Dial(e.url, nil)
	if err != nil {
		return nil, err
	}
	log.WithField("client_id", e.clientID).WithField("url", e.url).Info("connected to sidecar")
	e.conn = conn
	e.backoff.Reset()
	return conn, nil
}

// Probe attempts an initial connection with a small number of immediate
// retries, so a sidecar that's mid-restart at boot doesn't cost this
// process a full cycle of silent failures before the first batch goes
// out. It never returns an error the caller must act on — the monitor
// starts its first cycle regardless of whether the probe succeeded.
func (e *WebsocketEmitter) Probe(attempts int, delay time.Duration) {
	err := util.Retry(attempts, delay, func() error {
		_, err := e.ensureConn()
		return err
	})
	if err != nil {
		log.WithError(err).WithField("url", e.url).Warn("sidecar unreachable at startup, continuing anyway")
	}
}

func (e *WebsocketEmitter) dropConn() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
}

// sidecarEnvelope mirrors the shape the sidecar's protocol expects:
// channel name plus the JSON-encoded payload.
type sidecarEnvelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Emit implements Emitter. Failure is logged at most once per backoff
// window and never returned — the cycle always proceeds.
func (e *WebsocketEmitter) Emit(channel string, records []NodeInfo) {
	payload, err := json.Marshal(records)
	if err != nil {
		log.WithError(err).Error("sidecar emit: failed to serialize batch")
		return
	}
	envelope, err := json.Marshal(sidecarEnvelope{Channel: channel, Payload: payload})
	if err != nil {
		log.WithError(err).Error("sidecar emit: failed to build envelope")
		return
	}

	conn, err := e.ensureConn()
	if err != nil {
		e.warnOnce(err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, envelope); err != nil {
		e.warnOnce(err)
		e.dropConn()
		return
	}
}

// warnOnce rate-limits the "sidecar unreachable" log line to once per
// backoff interval so a long outage doesn't spam the log file every
// cycle; the monitor stays fire-and-forget and keeps emitting
// regardless of how long the sidecar has been down.
func (e *WebsocketEmitter) warnOnce(err error) {
	e.mu.Lock()
	wait := e.backoff.Next()
	shouldLog := time.Since(e.lastWarnLog) >= wait
	if shouldLog {
		e.lastWarnLog = time.Now()
	}
	e.mu.Unlock()

	if shouldLog {
		log.WithError(err).WithField("url", e.url).Warn("sidecar emit failed, will keep retrying")
	}
}

// Close releases the underlying connection, if any.
func (e *WebsocketEmitter) Close() {
	e.dropConn()
}
