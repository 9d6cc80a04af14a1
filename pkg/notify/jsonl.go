package notify

import (
	"context"
	"io"
	"log/slog"
)

// JSONLSink writes live lines as JSON records, one per line.
type JSONLSink struct {
	logger *slog.Logger
}

func NewJSONLSink(w io.Writer) *JSONLSink {
	if w == nil {
		w = io.Discard
	}
	return &JSONLSink{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

func (s *JSONLSink) Deliver(line LiveLine) {
	s.logger.LogAttrs(context.TODO(), slog.LevelInfo, "live",
		slog.String("call_id", line.CallID),
		slog.String("text", line.Text),
		slog.Bool("force", line.Force),
		slog.Time("time", line.At),
	)
}
