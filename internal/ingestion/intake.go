package ingestion

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/core"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/event"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/fault"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/observability"
)

// Subject layout.
const (
	CommandStream        = "NEXO_COMMANDS"
	CommandSubjectPrefix = "nexo.commands."
	EventStream          = "NEXO_LEDGER_EVENTS"
	EventSubjectPrefix   = "nexo.ledger.events."
)

// CommandSubject is the intake subject for kind.
func CommandSubject(kind event.CommandKind) string {
	return CommandSubjectPrefix + kind.String()
}

// EventSubject is the outbound subject for kind.
func EventSubject(kind event.CommandKind) string {
	return EventSubjectPrefix + kind.String()
}

// KindFromSubject resolves the command kind from the last subject token.
func KindFromSubject(subject string) event.CommandKind {
	if !strings.HasPrefix(subject, CommandSubjectPrefix) {
		return event.KindUnknown
	}
	return event.ParseKind(strings.TrimPrefix(subject, CommandSubjectPrefix))
}

// Submitter is the command entry point of the engine.
type Submitter interface {
	Submit(cmd event.Command) (core.Result, error)
}

// Disposition tells the transport what to do with a message.
type Disposition int

const (
	// Ack: applied, acknowledged as a duplicate, or rejected by the
	// domain. Redelivery would produce the same answer.
	Ack Disposition = iota
	// Term: the message can never parse. Stop redelivering it.
	Term
)

func (d Disposition) String() string {
	if d == Term {
		return "term"
	}
	return "ack"
}

// Intake parses raw commands and submits them to the engine. It is the
// transport-independent half of the NATS subscriber.
type Intake struct {
	parser  *Parser
	engine  Submitter
	source  string
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewIntake(parser *Parser, engine Submitter, source string, metrics *observability.Metrics, logger zerolog.Logger) *Intake {
	return &Intake{
		parser:  parser,
		engine:  engine,
		source:  source,
		metrics: metrics,
		logger:  logger.With().Str("component", "intake").Str("source", source).Logger(),
	}
}

// Handle processes one message. Domain rejections are logged and
// acknowledged; they are final because the core is deterministic.
func (in *Intake) Handle(kind event.CommandKind, data []byte, stamp Stamp) (core.Result, Disposition, error) {
	if in.metrics != nil {
		in.metrics.IngestReceived.WithLabelValues(in.source, kind.String()).Inc()
	}

	cmd, err := in.parser.Parse(kind, data, stamp)
	if err != nil {
		if in.metrics != nil {
			in.metrics.IngestInvalid.WithLabelValues(in.source).Inc()
		}
		in.logger.Warn().Err(err).Str("kind", kind.String()).Msg("dropping malformed command")
		return core.Result{}, Term, err
	}

	res, err := in.engine.Submit(cmd)
	if err != nil {
		var fe *fault.Error
		if !errors.As(err, &fe) {
			in.logger.Error().Err(err).Str("key", cmd.IdempotencyKey()).Msg("submit failed")
		}
		return core.Result{}, Ack, err
	}
	if res.Duplicate {
		in.logger.Debug().Str("kind", kind.String()).Str("key", cmd.IdempotencyKey()).Msg("duplicate command")
	}
	return res, Ack, nil
}
