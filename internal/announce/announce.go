// Package announce mirrors schema operation events onto NATS JetStream so
// consoles on other machines can watch each other's changes.
package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/llforeman/shifty/internal/config"
	"github.com/llforeman/shifty/internal/event"
)

// One stream, one subject. Runs are low volume; the stream is a shared
// tail, not a work queue.
var (
	StreamName  = "SCHEMA_OPS"
	SubjectRuns = "schema_ops.runs"
)

// Announcer publishes and consumes schema operation events on the stream.
type Announcer struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

// Dial connects to NATS and ensures the stream exists. A .creds file wins
// over user/password, same as the on-call chat service.
func Dial(ctx context.Context, cfg config.Events) (*Announcer, error) {
	if cfg.NATSURL == "" {
		return nil, fmt.Errorf("internal/announce: nats url is not set")
	}

	opts := []nats.Option{nats.Timeout(5 * time.Second)}
	if cfg.NATSCred != "" {
		opts = append(opts, nats.UserCredentials(cfg.NATSCred))
	} else if cfg.NATSUser != "" && cfg.NATSPassword != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}

	conn, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("internal/announce: connect: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("internal/announce: jetstream: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectRuns},
		MaxBytes: 1 << 30, // 1GB max storage
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("internal/announce: create/update stream: %w", err)
	}

	return &Announcer{conn: conn, js: js, stream: stream}, nil
}

// Publish mirrors one event onto the stream.
func (a *Announcer) Publish(ctx context.Context, ev event.Event) (uint64, error) {
	p, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("internal/announce: encode event: %w", err)
	}

	pubAck, err := a.js.Publish(ctx, SubjectRuns, p, jetstream.WithMsgID(uuid.NewString()))
	if err != nil {
		return 0, fmt.Errorf("internal/announce: publish to [%s]: %w", SubjectRuns, err)
	}
	return pubAck.Sequence, nil
}

// Subscribe consumes the stream into ch until the context ends.
func (a *Announcer) Subscribe(ctx context.Context, ch chan<- event.Event) error {
	consumer, err := a.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{})
	if err != nil {
		return fmt.Errorf("internal/announce: create or update consumer: %w", err)
	}

	consumeHandler := func(msg jetstream.Msg) {
		var ev event.Event
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			msg.Term()
			log.Printf("could not decode event payload: %v", err)
			return
		}
		msg.Ack()
		ch <- ev
	}

	optErrHandler := jetstream.ConsumeErrHandler(func(cc jetstream.ConsumeContext, err error) {
		log.Printf("consumer error: %v", err)
		cc.Drain()
	})

	consumeCtx, err := consumer.Consume(consumeHandler, optErrHandler)
	if err != nil {
		return fmt.Errorf("internal/announce: start consuming: %w", err)
	}

	go func() {
		<-ctx.Done()
		consumeCtx.Drain()
	}()

	return nil
}

// Close drains the connection, flushing pending publishes.
func (a *Announcer) Close() {
	if err := a.conn.Drain(); err != nil {
		log.Printf("couldn't drain NATS conn: %+v", err)
	}
}
