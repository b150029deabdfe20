package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/EternisAI/silo-beacon/internal/task"
)

const (
	httpTimeout     = 30 * time.Second
	dialTimeout     = 10 * time.Second
	maxResponseSize = 16 << 20
	requestIDHeader = "X-Request-ID"
)

var ErrUnexpectedStatus = errors.New("unexpected status code")

// HTTPTransport performs one request per call against the current server.
// Every request carries the identity beat in the profile's beat header.
type HTTPTransport struct {
	retryBudget

	opts    Options
	profile *Profile
	servers *ServerSet
	beat    string
	scheme  string
	client  *http.Client
}

func NewHTTP(opts Options) *HTTPTransport {
	t := &HTTPTransport{
		retryBudget: retryBudget{max: opts.Config.MaxRetries},
		opts:        opts,
		profile:     opts.profile(),
		servers:     opts.servers(),
		beat:        base64.StdEncoding.EncodeToString(opts.Beat),
		scheme:      opts.scheme("http", "https"),
	}

	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	t.client = &http.Client{
		Timeout: httpTimeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				target, err := t.servers.ResolveAddr(ctx, addr)
				if err != nil {
					return nil, err
				}
				return dialer.DialContext(ctx, network, target)
			},
			TLSClientConfig:     opts.TLS,
			MaxIdleConns:        2,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: dialTimeout,
		},
	}
	return t
}

func (t *HTTPTransport) ReceiveTask(ctx context.Context) *task.Task {
	if t.exhausted() {
		return nil
	}

	tk, err := t.fetchTask(ctx)
	if err != nil {
		t.failed(ctx, "Failed to fetch task", err)
		return nil
	}

	t.succeed()
	if tk != nil {
		slog.Debug("Task received", "task_id", tk.ID, "kind", tk.Kind.String())
	}
	return tk
}

func (t *HTTPTransport) SendResult(ctx context.Context, r *task.Result) bool {
	if t.exhausted() {
		return false
	}

	if err := t.postResult(ctx, r); err != nil {
		t.failed(ctx, "Failed to send result", err)
		return false
	}

	t.succeed()
	slog.Debug("Result sent", "task_id", r.TaskID)
	return true
}

func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// failed charges the retry budget and moves on to the next server. Failures
// caused by our own cancellation are not charged.
func (t *HTTPTransport) failed(ctx context.Context, msg string, err error) {
	if ctx.Err() != nil {
		return
	}
	slog.Warn(msg, "server", t.servers.Current().String(), "error", err)
	t.fail()
	t.servers.Advance()
}

func (t *HTTPTransport) fetchTask(ctx context.Context) (*task.Task, error) {
	req, err := t.newRequest(ctx, http.MethodGet, t.profile.HTTP.TasksPath, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return task.Decode(body)
}

func (t *HTTPTransport) postResult(ctx context.Context, r *task.Result) error {
	body, err := task.EncodeResult(r)
	if err != nil {
		return err
	}

	req, err := t.newRequest(ctx, http.MethodPost, t.profile.HTTP.ResultsPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target := fmt.Sprintf("%s://%s%s", t.scheme, t.servers.Current().String(), path)

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range t.profile.HTTP.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", t.opts.Config.UserAgent)
	req.Header.Set(requestIDHeader, uuid.New().String())
	req.Header.Set(t.profile.HTTP.BeatHeader, t.beat)
	return req, nil
}
