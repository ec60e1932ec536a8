package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes commands from JetStream and hands them to the
// intake. One subject per command kind under nexo.commands.
type NATSSubscriber struct {
	js       jetstream.JetStream
	intake   *Intake
	consumer string
	logger   zerolog.Logger
	cc       jetstream.ConsumeContext
}

func NewNATSSubscriber(js jetstream.JetStream, intake *Intake, consumerName string, logger zerolog.Logger) *NATSSubscriber {
	if consumerName == "" {
		consumerName = "nexoledger"
	}
	return &NATSSubscriber{
		js:       js,
		intake:   intake,
		consumer: consumerName,
		logger:   logger.With().Str("component", "nats_subscriber").Logger(),
	}
}

// Subscribe creates a durable consumer over every command subject.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       ns.consumer,
		FilterSubject: CommandSubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", ns.consumer, err)
	}

	cc, err := consumer.Consume(ns.handle)
	if err != nil {
		return fmt.Errorf("consume %s: %w", ns.consumer, err)
	}
	ns.cc = cc
	ns.logger.Info().Str("consumer", ns.consumer).Str("subject", CommandSubjectPrefix+">").Msg("subscribed")
	return nil
}

func (ns *NATSSubscriber) handle(msg jetstream.Msg) {
	stamp := Stamp{Now: time.Now().UTC()}
	// The stream's timestamp and sequence are stable across redeliveries.
	if md, err := msg.Metadata(); err == nil {
		stamp.Now = md.Timestamp.UTC()
		stamp.Key = fmt.Sprintf("nats:%s:%d", md.Stream, md.Sequence.Stream)
	}
	if h := msg.Headers(); h != nil {
		if id := h.Get(nats.MsgIdHdr); id != "" {
			stamp.Key = id
		}
	}

	kind := KindFromSubject(msg.Subject())
	res, disp, err := ns.intake.Handle(kind, msg.Data(), stamp)

	switch disp {
	case Term:
		if termErr := msg.Term(); termErr != nil {
			ns.logger.Warn().Err(termErr).Msg("term failed")
		}
	default:
		if ackErr := msg.Ack(); ackErr != nil {
			ns.logger.Warn().Err(ackErr).Msg("ack failed")
		}
	}

	if err != nil {
		ns.logger.Info().Err(err).Str("subject", msg.Subject()).Str("disposition", disp.String()).Msg("command not applied")
		return
	}
	ns.logger.Debug().Int64("sequence", res.Sequence).Str("subject", msg.Subject()).Msg("command applied")
}

// Stop drains the consumer: buffered messages are handled, then delivery
// stops. Waits at most timeout.
func (ns *NATSSubscriber) Stop(timeout time.Duration) {
	if ns.cc == nil {
		return
	}
	ns.cc.Drain()
	select {
	case <-ns.cc.Closed():
	case <-time.After(timeout):
		ns.cc.Stop()
		ns.logger.Warn().Dur("timeout", timeout).Msg("drain timed out")
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// EnsureStreams creates the command and event streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:       CommandStream,
			Subjects:   []string{CommandSubjectPrefix + ">"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		},
		{
			Name:       EventStream,
			Subjects:   []string{EventSubjectPrefix + ">"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("nexoledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
