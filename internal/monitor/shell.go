package monitor

import (
	"bufio"
	"context"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const (
	timeoutSSHTCP    = 800 * time.Millisecond
	timeoutSSHBanner = 700 * time.Millisecond
	sshPort          = "22"
)

var (
	ubuntuMatcher   = regexp.MustCompile(`^DISTRIB_RELEASE=([0-9.]+)`)
	fedoraMatcher   = regexp.MustCompile(`^Fedora release (\d+)`)
	gnuradioMatcher = regexp.MustCompile(`^GNURADIO:([0-9.]+)$`)
	rxtxMatcher     = regexp.MustCompile(`^==> /sys/class/net/(wlan[0-9]+)/statistics/(rx|tx)_bytes <==$`)
	numberMatcher   = regexp.MustCompile(`^[0-9]+$`)
)

// ShellDialer opens the passwordless admin shell and runs one remote
// command, returning its stdout. The shell stage depends on this port
// rather than golang.org/x/crypto/ssh directly so tests can fake a
// fleet of nodes without a real sshd.
type ShellDialer interface {
	Run(ctx context.Context, host, command string) (stdout string, err error)
}

// SSHDialer is the production ShellDialer. Nodes run a no-password
// administrative shell; we request the SSH "none" method by supplying
// no authentication methods at all.
type SSHDialer struct {
	TCPTimeout    time.Duration
	BannerTimeout time.Duration
}

// NewSSHDialer returns a dialer using the default connect/banner timeouts.
func NewSSHDialer() SSHDialer {
	return SSHDialer{TCPTimeout: timeoutSSHTCP, BannerTimeout: timeoutSSHBanner}
}

func (d SSHDialer) config() *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            "root",
		Auth:            []ssh.AuthMethod{},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.TCPTimeout,
	}
}

func (d SSHDialer) dial(ctx context.Context, addr string) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: d.TCPTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "tcp connect")
	}
	if err := conn.SetDeadline(time.Now().Add(d.BannerTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, d.config())
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "ssh handshake")
	}
	// handshake is done; hand the rest of the connection's lifetime
	// over to the caller's context instead of a fixed banner deadline.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		clientConn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

// RemoteExitError means the dialer reached the node and ran the
// command, but the command itself exited non-zero. Stdout collected up
// to that point is still meaningful and is returned alongside the
// error, unlike a dial/handshake failure which never produces output.
type RemoteExitError struct {
	Err error
}

func (e *RemoteExitError) Error() string { return "remote command exited non-zero: " + e.Err.Error() }
func (e *RemoteExitError) Unwrap() error { return e.Err }

// Run implements ShellDialer.
func (d SSHDialer) Run(ctx context.Context, host, command string) (string, error) {
	client, err := d.dial(ctx, net.JoinHostPort(host, sshPort))
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", errors.Wrap(err, "opening session")
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Output(command)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		session.Close()
		client.Close()
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			if _, ok := r.err.(*ssh.ExitError); ok {
				return sanitizeUTF8(string(r.out)), &RemoteExitError{Err: r.err}
			}
			return "", errors.Wrap(r.err, "remote command failed")
		}
		return sanitizeUTF8(string(r.out)), nil
	}
}

// ShellStage is the second probing pass: open the node's admin shell,
// identify its software flavour, and (optionally) sample wireless
// interface byte counters.
type ShellStage struct {
	Dialer     ShellDialer
	ReportWlan bool
	Now        func() float64 // injectable for tests; defaults to wall clock seconds
}

// NewShellStage returns a ShellStage wired to a real SSH dialer.
func NewShellStage(reportWlan bool) *ShellStage {
	return &ShellStage{
		Dialer:     NewSSHDialer(),
		ReportWlan: reportWlan,
		Now:        wallClockSeconds,
	}
}

func (s *ShellStage) Name() string { return "shell" }

var shellPadding = Overlay{"control_ssh": "on", "control_ping": "on"}

func (s *ShellStage) remoteCommand() string {
	parts := []string{
		"cat /etc/lsb-release /etc/fedora-release /etc/gnuradio-release 2> /dev/null | grep -i release",
		"echo -n GNURADIO: ; gnuradio-config-info --version 2> /dev/null || echo none",
	}
	if s.ReportWlan {
		parts = append(parts, "head /sys/class/net/wlan?/statistics/[rt]x_bytes")
	}
	return strings.Join(parts, ";")
}

func (s *ShellStage) Run(ctx context.Context, focus map[int]struct{}, table *InfoTable, history *HistoryStore) map[int]struct{} {
	claimed := make(map[int]struct{})
	cmd := s.remoteCommand()

	for _, id := range sortedIDs(focus) {
		host := fitHostname(id)
		cctx, cancel := context.WithTimeout(ctx, timeoutSSHTCP+timeoutSSHBanner+2*time.Second)
		out, err := s.Dialer.Run(cctx, host, cmd)
		cancel()

		if _, isRemoteExit := err.(*RemoteExitError); err != nil && !isRemoteExit {
			log.WithField("node", id).WithError(err).Debug("shell connect failed")
			table.InsertOrRefine(id, Overlay{"control_ssh": "off"})
			continue
		} else if isRemoteExit {
			log.WithField("node", id).WithError(err).Debug("shell command exited non-zero, using captured output")
		}

		table.ClearWireless(id)
		osRelease, rates, parseErr := parseShellOutput(out)
		if parseErr != nil {
			log.WithField("node", id).WithError(parseErr).Debug("shell output unparsable")
			table.InsertOrRefine(id, Overlay{"os_release": "other"}, shellPadding)
			claimed[id] = struct{}{}
			continue
		}

		now := s.Now()
		wlanOverlay := Overlay{}
		for _, sample := range rates {
			key := HistoryKey{NodeID: id, Device: sample.device, Direction: sample.direction}
			rate, ok := history.Rate(key, sample.bytes, now)
			if ok {
				wlanOverlay[wlanKey(sample.device, sample.direction)] = rate
			}
		}
		table.InsertOrRefine(id, Overlay{"os_release": osRelease}, shellPadding, wlanOverlay)
		claimed[id] = struct{}{}
	}
	return subtract(focus, claimed)
}

type rxtxSample struct {
	device    string
	direction string
	bytes     uint64
}

// parseShellOutput scans the remote command's combined output line by
// line against a small matcher table. It never returns an error for
// merely-absent data — default flavour is "other" — only for input
// indicating the command genuinely produced garbage this function
// cannot make sense of, which in practice doesn't happen since every
// matcher is optional; the return signature keeps an error path open
// for future matchers that do need to fail.
func parseShellOutput(output string) (osRelease string, samples []rxtxSample, err error) {
	flavour := "other"
	extension := ""
	var pendingKey *rxtxSample

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\n")

		if m := ubuntuMatcher.FindStringSubmatch(line); m != nil {
			flavour = "ubuntu-" + m[1]
			pendingKey = nil
			continue
		}
		if m := fedoraMatcher.FindStringSubmatch(line); m != nil {
			flavour = "fedora-" + m[1]
			pendingKey = nil
			continue
		}
		if m := gnuradioMatcher.FindStringSubmatch(line); m != nil && m[1] != "" {
			extension += "-gnuradio-" + m[1]
			pendingKey = nil
			continue
		}
		if m := rxtxMatcher.FindStringSubmatch(line); m != nil {
			pendingKey = &rxtxSample{device: m[1], direction: m[2]}
			continue
		}
		if numberMatcher.MatchString(line) && pendingKey != nil {
			n, convErr := strconv.ParseUint(line, 10, 64)
			if convErr == nil {
				samples = append(samples, rxtxSample{device: pendingKey.device, direction: pendingKey.direction, bytes: n})
			}
			pendingKey = nil
			continue
		}
		pendingKey = nil
	}
	return flavour + extension, samples, nil
}

func wallClockSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
