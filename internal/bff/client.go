package bff

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"github.com/hackgods/clinic-appointments/internal/api"
	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/metrics"
)

const (
	DefaultTimeout = 5 * time.Second

	maxBodyBytes = 1 << 20
)

type Options struct {
	BaseURL     string
	Timeout     time.Duration // per call, never retried
	MaxFailures uint32        // consecutive transport failures before the breaker opens
	OpenTimeout time.Duration // how long the breaker stays open
	Transport   http.RoundTripper
	Metrics     *metrics.Collector
}

// Client forwards appointment operations to the resource tier. Failures come
// back as *appointment.Error rebuilt from the envelope kind.
type Client struct {
	http    *http.Client
	baseURL string
	breaker *gobreaker.CircuitBreaker[*http.Response]
	metrics *metrics.Collector
}

var _ appointment.Backend = (*Client)(nil)

func NewClient(opts Options) (*Client, error) {
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}

	maxFailures := opts.MaxFailures
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "resource-tier",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// only transport failures count; a caller giving up is not the upstream's fault
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
		},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		breaker: breaker,
		metrics: opts.Metrics,
	}, nil
}

// List degrades to an empty list when the resource tier cannot be reached.
// Typed failures such as an invalid date filter are still returned.
func (c *Client) List(ctx context.Context, filter appointment.ListFilter) ([]appointment.Appointment, error) {
	path := "/appointments"
	if filter.Date != "" {
		path += "?" + url.Values{"date": {filter.Date}}.Encode()
	}

	var data []api.AppointmentDTO
	if err := c.do(ctx, "list", http.MethodGet, path, nil, &data); err != nil {
		if appointment.KindOf(err) == appointment.KindUnexpected {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("listing appointments failed, answering with an empty list")
			return []appointment.Appointment{}, nil
		}
		return nil, err
	}

	out := make([]appointment.Appointment, 0, len(data))
	for _, d := range data {
		a, err := api.FromDTO(d)
		if err != nil {
			return nil, appointment.Unexpected(fmt.Errorf("decode appointment %d: %w", d.ID, err))
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id int64) (*appointment.Appointment, error) {
	return c.single(ctx, "get", http.MethodGet, appointmentPath(id), nil)
}

func (c *Client) Create(ctx context.Context, req appointment.Request) (*appointment.Appointment, error) {
	return c.single(ctx, "create", http.MethodPost, "/appointments", api.NewAppointmentRequest(req))
}

func (c *Client) Update(ctx context.Context, id int64, req appointment.Request) (*appointment.Appointment, error) {
	return c.single(ctx, "update", http.MethodPut, appointmentPath(id), api.NewAppointmentRequest(req))
}

func (c *Client) Delete(ctx context.Context, id int64) (bool, error) {
	err := c.do(ctx, "delete", http.MethodDelete, appointmentPath(id), nil, nil)
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) Confirm(ctx context.Context, id int64) (*appointment.Appointment, error) {
	return c.single(ctx, "confirm", http.MethodPost, appointmentPath(id)+"/confirm", nil)
}

// Ping probes the resource tier's liveness endpoint for readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/live", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resource tier liveness: status=%d", resp.StatusCode)
	}
	return nil
}

func (c *Client) single(ctx context.Context, op, method, path string, in any) (*appointment.Appointment, error) {
	var data *api.AppointmentDTO
	if err := c.do(ctx, op, method, path, in, &data); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, appointment.Unexpected(fmt.Errorf("%s %s: empty data", method, path))
	}

	a, err := api.FromDTO(*data)
	if err != nil {
		return nil, appointment.Unexpected(fmt.Errorf("%s %s: %w", method, path, err))
	}
	return &a, nil
}

// do performs one call. It never retries.
func (c *Client) do(ctx context.Context, op, method, path string, in any, out any) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = string(appointment.KindOf(err))
		}
		c.metrics.ObserveUpstream(op, result)
	}()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return appointment.Unexpected(fmt.Errorf("marshal %s body: %w", op, err))
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return appointment.Unexpected(fmt.Errorf("new request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := api.GetRequestID(ctx); id != "" {
		req.Header.Set(api.RequestIDHeader, id)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("method", method).Str("path", path).Msg("resource tier unreachable")
		return appointment.Unexpected(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return appointment.Unexpected(fmt.Errorf("%s %s: read body: %w", method, path, err))
	}

	var env api.Envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return appointment.Unexpected(fmt.Errorf("%s %s: status=%d: decode envelope: %w", method, path, resp.StatusCode, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		return upstreamError(resp.StatusCode, env)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return appointment.Unexpected(fmt.Errorf("%s %s: decode data: %w", method, path, err))
	}
	return nil
}

// upstreamError rebuilds the typed failure. The kind comes from the envelope;
// an upstream that does not send one is classified by status code. The
// message is passed through unmodified.
func upstreamError(status int, env api.Envelope[json.RawMessage]) error {
	kind, ok := appointment.ParseKind(env.Kind)
	if !ok {
		kind = kindForStatus(status)
	}
	if status >= http.StatusInternalServerError {
		kind = appointment.KindUnexpected
	}

	message := env.Message
	if message == "" || kind == appointment.KindUnexpected {
		message = appointment.Sentinel(kind).Message
	}

	return &appointment.Error{
		Kind:    kind,
		Message: message,
		Err:     fmt.Errorf("upstream status %d", status),
	}
}

func kindForStatus(status int) appointment.Kind {
	switch status {
	case http.StatusBadRequest:
		return appointment.KindInvalidArgument
	case http.StatusNotFound:
		return appointment.KindAppointmentNotFound
	case http.StatusConflict:
		return appointment.KindSlotConflict
	default:
		return appointment.KindUnexpected
	}
}

func appointmentPath(id int64) string {
	return "/appointments/" + strconv.FormatInt(id, 10)
}
