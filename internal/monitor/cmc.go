package monitor

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const timeoutCurl = 1 * time.Second

// HTTPGetter abstracts the single HTTP call Stage 1 makes, so tests can
// fake chassis-controller responses without a real listener. Production
// code backs it with *http.Client.
type HTTPGetter interface {
	Get(ctx context.Context, url string) (status int, body string, err error)
}

// HTTPClientGetter is the production HTTPGetter, a thin wrapper over
// net/http honoring the context deadline passed in.
type HTTPClientGetter struct {
	Client *http.Client
}

// NewHTTPClientGetter returns a getter with a client that has no
// overall timeout of its own — the per-request context deadline is
// what bounds it.
func NewHTTPClientGetter() HTTPClientGetter {
	return HTTPClientGetter{Client: &http.Client{}}
}

func (g HTTPClientGetter) Get(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

// CMCStage is the first probing pass: ask each node's chassis
// management controller whether it is powered on.
type CMCStage struct {
	Getter HTTPGetter
}

// NewCMCStage returns a CMCStage wired to a real HTTP client.
func NewCMCStage() *CMCStage {
	return &CMCStage{Getter: NewHTTPClientGetter()}
}

func (s *CMCStage) Name() string { return "cmc" }

var cmcPadding = Overlay{"control_ping": "off", "control_ssh": "off"}

func (s *CMCStage) Run(ctx context.Context, focus map[int]struct{}, table *InfoTable, _ *HistoryStore) map[int]struct{} {
	claimed := make(map[int]struct{})
	for _, id := range sortedIDs(focus) {
		url := "http://" + rebootHostname(id) + "/status"
		cctx, cancel := context.WithTimeout(ctx, timeoutCurl)
		status, body, err := s.Getter.Get(cctx, url)
		cancel()

		result := strings.TrimSpace(body)
		switch {
		case err != nil:
			log.WithField("node", id).WithError(err).Debug("cmc status request failed")
			table.InsertOrRefine(id, Overlay{"cmc_on_off": "fail"}, cmcPadding)
			claimed[id] = struct{}{}
		case status != http.StatusOK:
			log.WithField("node", id).WithField("status", status).Debug("cmc status unexpected http code")
			table.InsertOrRefine(id, Overlay{"cmc_on_off": "fail"}, cmcPadding)
			claimed[id] = struct{}{}
		case result == "off":
			table.InsertOrRefine(id, Overlay{"cmc_on_off": "off"}, cmcPadding)
			claimed[id] = struct{}{}
		case result == "on":
			table.InsertOrRefine(id, Overlay{"cmc_on_off": "on"})
			// node continues to Stage 2, not claimed
		default:
			log.WithField("node", id).WithField("body", result).Debug("cmc status unexpected body")
			table.InsertOrRefine(id, Overlay{"cmc_on_off": "fail"}, cmcPadding)
			claimed[id] = struct{}{}
		}
	}
	return subtract(focus, claimed)
}
