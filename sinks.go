package codedrop

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/codedrop/internal/sink"
)

// Sink is the output interface for submission outcomes.
type Sink = sink.Sink

// Event records the terminal outcome of one block submission.
type Event = sink.Event

// EventFunc is called for each event.
type EventFunc = sink.Func

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(fn EventFunc) Sink {
	return sink.NewCallback(fn)
}

// SinksFromConfig builds the sinks listed in cfg.
func SinksFromConfig(cfg *Config, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for i, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			out = append(out, NewStdoutSink(nil))
		case "webhook":
			out = append(out, NewWebhookSink(sc.URL, logger))
		default:
			return nil, fmt.Errorf("codedrop: sink %d: unknown type %q", i, sc.Type)
		}
	}
	return out, nil
}
