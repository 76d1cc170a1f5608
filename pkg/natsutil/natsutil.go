// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation. Ingestion jobs travel over it.
package natsutil

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Encode builds a message carrying v as JSON plus the trace context of ctx.
// Extra headers are copied onto the message.
func Encode[T any](ctx context.Context, subject string, v T, hdr nats.Header) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, vals := range hdr {
		for _, val := range vals {
			msg.Header.Add(k, val)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes it to subject.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	return PublishWithHeader(ctx, nc, subject, v, nil)
}

// PublishWithHeader is Publish with extra message headers.
func PublishWithHeader[T any](ctx context.Context, nc *nats.Conn, subject string, v T, hdr nats.Header) error {
	msg, err := Encode(ctx, subject, v, hdr)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Handler receives a decoded payload with the raw message for header access.
type Handler[T any] func(ctx context.Context, v T, msg *nats.Msg)

// Subscribe registers a handler that decodes JSON messages of type T. Trace
// context is extracted from headers. Messages that fail to decode go to
// onBad when it is non-nil and are otherwise dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler Handler[T], onBad func(*nats.Msg, error)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, wrap(handler, onBad))
}

// QueueSubscribe is Subscribe within a queue group so each message is handled
// by one worker.
func QueueSubscribe[T any](nc *nats.Conn, subject, queue string, handler Handler[T], onBad func(*nats.Msg, error)) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, wrap(handler, onBad))
}

func wrap[T any](handler Handler[T], onBad func(*nats.Msg, error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			if onBad != nil {
				onBad(msg, err)
			}
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v, msg)
	}
}

// Request sends a JSON-encoded request and decodes the response. A zero
// timeout means nats.DefaultTimeout.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req, timeout time.Duration) (Resp, error) {
	var zero Resp
	msg, err := Encode(ctx, subject, req, nil)
	if err != nil {
		return zero, err
	}
	if timeout == 0 {
		timeout = nats.DefaultTimeout
	}
	resp, err := nc.RequestMsg(msg, timeout)
	if err != nil {
		return zero, err
	}
	var result Resp
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return zero, err
	}
	return result, nil
}
