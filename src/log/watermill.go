package log

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-logr/logr"
)

// watermillAdapter routes watermill router and pub/sub logs to a logr logger.
type watermillAdapter struct {
	l logr.Logger
}

// Watermill returns a watermill.LoggerAdapter backed by the global logger.
func Watermill(name string) watermill.LoggerAdapter {
	return watermillAdapter{l: logger.WithName(name)}
}

func (a watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.l.Error(err, msg, kv(fields)...)
}

func (a watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.l.Info(msg, kv(fields)...)
}

func (a watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.l.V(1).Info(msg, kv(fields)...)
}

func (a watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.l.V(2).Info(msg, kv(fields)...)
}

func (a watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillAdapter{l: a.l.WithValues(kv(fields)...)}
}

func kv(fields watermill.LogFields) []interface{} {
	out := make([]interface{}, 0, 2*len(fields))
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
