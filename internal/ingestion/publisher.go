package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/core"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/treasury"
)

// OutboundPublisher publishes applied commands to NATS for downstream
// consumers. Subjects follow nexo.ledger.events.{kind}. Delivery is best
// effort: consumers that miss a message read the command log.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire form of one applied command.
type PublishableEvent struct {
	Sequence       int64               `json:"sequence"`
	Kind           string              `json:"kind"`
	IdempotencyKey string              `json:"idempotency_key"`
	Caller         string              `json:"caller"`
	Timestamp      time.Time           `json:"timestamp"`
	Payload        json.RawMessage     `json:"payload"`
	Outcome        json.RawMessage     `json:"outcome,omitempty"`
	StateHash      string              `json:"state_hash"`
	Locks          []treasury.LockRecord `json:"locks,omitempty"`
	Positions      []PositionEvent     `json:"positions,omitempty"`
	Journals       int                 `json:"journals"`
}

// PositionEvent is a vault position after the command.
type PositionEvent struct {
	Holder  string `json:"holder"`
	Balance string `json:"balance"`
	Share   string `json:"share"`
	Profit  string `json:"profit"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger.With().Str("component", "publisher").Logger(),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	subject, msgID, data, err := BuildEventMessage(out)
	if err != nil {
		return err
	}
	_, err = op.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	return err
}

// BuildEventMessage returns the subject, dedup id and body for out.
func BuildEventMessage(out core.CoreOutput) (subject, msgID string, data []byte, err error) {
	env := out.Envelope
	if env == nil {
		return "", "", nil, fmt.Errorf("output without envelope")
	}

	evt := PublishableEvent{
		Sequence:       env.Sequence,
		Kind:           env.Kind.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         string(env.Caller),
		Timestamp:      env.Timestamp,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
	}
	if len(env.Outcome) > 0 {
		evt.Outcome = json.RawMessage(env.Outcome)
	}
	if len(evt.Payload) == 0 {
		evt.Payload = json.RawMessage("{}")
	}
	for _, l := range out.Locks {
		evt.Locks = append(evt.Locks, l.Record())
	}
	for _, p := range out.Positions {
		evt.Positions = append(evt.Positions, PositionEvent{
			Holder:  string(p.Holder),
			Balance: p.Balance.String(),
			Share:   p.Share.String(),
			Profit:  p.Profit.String(),
		})
	}
	if out.Batch != nil {
		evt.Journals = len(out.Batch.Journals)
	}

	data, err = json.Marshal(evt)
	if err != nil {
		return "", "", nil, fmt.Errorf("marshal event: %w", err)
	}
	return EventSubject(env.Kind), fmt.Sprintf("nexo-ledger-%d", env.Sequence), data, nil
}
