/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cowdogmoo/foundry/config"
	"github.com/cowdogmoo/foundry/logging"
	"github.com/nats-io/nats.go"
)

// DefaultSubject prefixes every published subject when none is configured.
const DefaultSubject = "foundry.jobs"

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Flush() error
	Close()
}

// NATSPublisher publishes JSON events on <subject>.<job id>.
type NATSPublisher struct {
	conn    Conn
	subject string
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

// DialNATS connects to url and returns a publisher on subject.
func DialNATS(ctx context.Context, url, subject string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("foundry"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(nats.DefaultTimeout),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logging.DebugContext(ctx, "connected to NATS at %s", logging.RedactURL(url))
	return NewNATSPublisher(conn, subject), nil
}

// Subject returns the subject events for jobID are published on.
func (p *NATSPublisher) Subject(jobID string) string {
	return p.subject + "." + jobID
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev.JobID), data); err != nil {
		return fmt.Errorf("publish %s event for job %s: %w", ev.Kind, ev.JobID, err)
	}
	return nil
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	err := p.conn.Flush()
	p.conn.Close()
	return err
}

// Open builds the publisher selected by cfg.
func Open(ctx context.Context, cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Driver {
	case "", "log":
		return LogPublisher{}, nil
	case "none":
		return Discard{}, nil
	case "nats":
		return DialNATS(ctx, cfg.URL, cfg.Subject)
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}
