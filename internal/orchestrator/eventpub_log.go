package orchestrator

import "github.com/rs/zerolog"

// LogPublisher writes every event as a debug log line.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(l zerolog.Logger) LogPublisher {
	return LogPublisher{log: l.With().Str("component", "events").Logger()}
}

func (p LogPublisher) Publish(e Event) {
	ev := p.log.Debug().Str("event", e.Name)
	if e.ModelID != "" {
		ev = ev.Str("model", e.ModelID)
	}
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("event")
}
