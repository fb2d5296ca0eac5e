// Package webhook delivers leave events to external systems.
//
// Every emitter implements leave.WebhookEmitter. HTTPEmitter POSTs the JSON
// payload to a configured URL, KafkaEmitter publishes it to a topic keyed by
// request id, and Multi fans out to several emitters. With
// leave.EmitOptions{Async: true} the event is handed to a goroutine and the
// returned error only covers the hand-off.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

const (
	EventLeaveCreated = "leave.created"

	DefaultTimeout = 5 * time.Second
)

var (
	_ leave.WebhookEmitter = (*HTTPEmitter)(nil)
	_ leave.WebhookEmitter = (*KafkaEmitter)(nil)
	_ leave.WebhookEmitter = Multi(nil)
)

// =============================================================================
// ASYNC DISPATCH
// =============================================================================

// dispatcher runs deliveries in the background and lets Close wait for them.
type dispatcher struct {
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// dispatch runs send inline, or in a goroutine when async is set. Background
// sends get their own timeout and ignore the caller's cancellation.
func (d *dispatcher) dispatch(ctx context.Context, async bool, ev leave.WebhookEvent, send func(context.Context) error) error {
	if !async {
		return send(ctx)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := send(bg); err != nil {
			d.logger.Warn("async webhook delivery failed",
				zap.String("request_id", ev.ID),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// wait blocks until every background delivery has finished.
func (d *dispatcher) wait() { d.wg.Wait() }

// =============================================================================
// HTTP
// =============================================================================

type HTTPEmitter struct {
	url    string
	client *http.Client
	d      dispatcher
}

// NewHTTPEmitter posts events to url. A zero timeout uses DefaultTimeout.
func NewHTTPEmitter(url string, timeout time.Duration, logger *zap.Logger) *HTTPEmitter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPEmitter{
		url:    url,
		client: &http.Client{Timeout: timeout},
		d:      dispatcher{logger: logger.Named("webhook.http"), timeout: timeout},
	}
}

func (e *HTTPEmitter) EmitLeaveCreated(ctx context.Context, ev leave.WebhookEvent, opts leave.EmitOptions) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode webhook event")
	}
	return e.d.dispatch(ctx, opts.Async, ev, func(ctx context.Context) error {
		return e.post(ctx, body)
	})
}

func (e *HTTPEmitter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", EventLeaveCreated)

	resp, err := e.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Close waits for in-flight async deliveries.
func (e *HTTPEmitter) Close() error {
	e.d.wait()
	return nil
}

// =============================================================================
// FAN-OUT
// =============================================================================

// Multi delivers to every emitter, even after one fails, and joins the
// errors.
type Multi []leave.WebhookEmitter

func (m Multi) EmitLeaveCreated(ctx context.Context, ev leave.WebhookEvent, opts leave.EmitOptions) error {
	var errs []error
	for _, e := range m {
		if err := e.EmitLeaveCreated(ctx, ev, opts); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
