// ABOUTME: HTTP transport adapter for provider processes speaking the relay's wire surface
// ABOUTME: Attaches to a running provider or spawns one per workspace directory

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-relay/internal/patch"
)

// ModeAttach is the connection mode that attaches to an already-running
// provider at a configured address instead of spawning one.
const ModeAttach = "attach"

// DefaultStartupTimeout bounds how long a spawned provider gets to come
// up before the connect fails.
const DefaultStartupTimeout = 15 * time.Second

// HTTPFactoryConfig configures NewHTTPFactory.
type HTTPFactoryConfig struct {
	// AttachURL is the base URL of a running provider, used in attach
	// mode.
	AttachURL string

	// SpawnCommand is the argv spawned per workspace directory in spawn
	// mode. The child is started in the workspace directory with the
	// listen address in COVEN_PROVIDER_ADDR.
	SpawnCommand []string

	// StartupTimeout bounds the health poll after a spawn. Zero means
	// DefaultStartupTimeout.
	StartupTimeout time.Duration
}

// NewHTTPFactory returns a Factory building HTTP provider connections
// according to the requested mode.
func NewHTTPFactory(cfg HTTPFactoryConfig, logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "provider")

	return func(ctx context.Context, directory, mode string) (Provider, error) {
		switch mode {
		case ModeAttach:
			if cfg.AttachURL == "" {
				return nil, fmt.Errorf("attach mode requires a provider url")
			}
			return attachHTTPProvider(ctx, cfg.AttachURL, directory, nil, logger)
		case ModeSpawn:
			if len(cfg.SpawnCommand) == 0 {
				return nil, fmt.Errorf("spawn mode requires a provider command")
			}
			return spawnHTTPProvider(ctx, cfg, directory, logger)
		default:
			return nil, fmt.Errorf("unknown connection mode %q", mode)
		}
	}
}

// HTTPProvider is a Provider backed by a provider process over HTTP:
// unary requests via POST /rpc, the event stream via a websocket at
// /events, and verbatim proxying via a reverse proxy.
type HTTPProvider struct {
	dir    string
	base   *url.URL
	caps   Capabilities
	client *http.Client
	rp     *httputil.ReverseProxy
	cmd    *exec.Cmd
	logger *slog.Logger

	mu       sync.Mutex
	disposed bool
}

// attachHTTPProvider connects to a provider at baseURL and reads its
// capability set. cmd, when non-nil, is the spawned child the provider
// owns.
func attachHTTPProvider(ctx context.Context, baseURL, directory string, cmd *exec.Cmd, logger *slog.Logger) (*HTTPProvider, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing provider url: %w", err)
	}

	p := &HTTPProvider{
		dir:    directory,
		base:   base,
		client: &http.Client{},
		rp:     httputil.NewSingleHostReverseProxy(base),
		cmd:    cmd,
		logger: logger,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.JoinPath("capabilities").String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reading provider capabilities: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reading provider capabilities: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&p.caps); err != nil {
		return nil, fmt.Errorf("decoding provider capabilities: %w", err)
	}

	return p, nil
}

// spawnHTTPProvider launches the configured provider command in the
// workspace directory and attaches once its health endpoint answers.
func spawnHTTPProvider(ctx context.Context, cfg HTTPFactoryConfig, directory string, logger *slog.Logger) (*HTTPProvider, error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("reserving provider port: %w", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	cmd := exec.Command(cfg.SpawnCommand[0], cfg.SpawnCommand[1:]...)
	cmd.Dir = directory
	cmd.Env = append(os.Environ(), "COVEN_PROVIDER_ADDR="+addr)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning provider: %w", err)
	}
	logger.Info("spawned provider", "pid", cmd.Process.Pid, "addr", addr, "directory", directory)

	baseURL := "http://" + addr
	timeout := cfg.StartupTimeout
	if timeout == 0 {
		timeout = DefaultStartupTimeout
	}
	if err := waitHealthy(ctx, baseURL, timeout); err != nil {
		stopProcess(cmd)
		return nil, fmt.Errorf("provider did not become healthy: %w", err)
	}

	return attachHTTPProvider(ctx, baseURL, directory, cmd, logger)
}

// waitHealthy polls GET /health until it answers 200, ctx is cancelled,
// or the timeout elapses.
func waitHealthy(ctx context.Context, baseURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// stopProcess terminates a spawned child, escalating to SIGKILL if it
// ignores SIGTERM.
func stopProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
	}
}

func (p *HTTPProvider) ProviderType() string       { return "http" }
func (p *HTTPProvider) Directory() string          { return p.dir }
func (p *HTTPProvider) Capabilities() Capabilities { return p.caps }

type rpcRequest struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Request performs a unary call as POST /rpc and returns the raw
// response body.
func (p *HTTPProvider) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if p.isDisposed() {
		return nil, ErrDisposed
	}

	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encoding rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base.JoinPath("rpc").String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("rpc %s: reading response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc %s: status %d: %s", method, resp.StatusCode, raw)
	}
	return raw, nil
}

// Proxy forwards the request verbatim to the provider.
func (p *HTTPProvider) Proxy(w http.ResponseWriter, r *http.Request) error {
	if p.isDisposed() {
		return ErrDisposed
	}
	p.rp.ServeHTTP(w, r)
	return nil
}

// wireEvent is the JSON shape the provider writes on its /events socket.
type wireEvent struct {
	Type string            `json:"type"`
	Ops  []patch.Operation `json:"ops"`
}

// Events dials the provider's /events websocket and forwards its frames
// until ctx is cancelled or the socket closes.
func (p *HTTPProvider) Events(ctx context.Context) (<-chan Event, error) {
	if p.isDisposed() {
		return nil, ErrDisposed
	}

	wsURL := *p.base
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL = *wsURL.JoinPath("events")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("dialing provider events: %w", err)
	}

	ch := make(chan Event, 64)

	// Unblock the reader when the subscription scope ends.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			var ev wireEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					p.logger.Debug("provider event stream ended", "error", err)
				}
				return
			}
			select {
			case ch <- Event{Type: ev.Type, Ops: ev.Ops}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Dispose terminates any spawned child process. Later calls return
// ErrDisposed.
func (p *HTTPProvider) Dispose() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return ErrDisposed
	}
	p.disposed = true
	cmd := p.cmd
	p.mu.Unlock()

	stopProcess(cmd)
	return nil
}

func (p *HTTPProvider) isDisposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}
