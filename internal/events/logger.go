// Package events carries asynchronous work between the HTTP edge, the bot
// and the notification workers over watermill, backed by Redis Streams in
// production and an in-process channel in tests.
package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// ZerologAdapter bridges watermill's logger onto zerolog.
type ZerologAdapter struct {
	l zerolog.Logger
}

// NewZerologAdapter wraps l. Watermill's chatty debug/trace output is mapped
// to zerolog's debug/trace levels so the global level filters it.
func NewZerologAdapter(l zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{l: l.With().Str("component", "watermill").Logger()}
}

func (a *ZerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.l.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (a *ZerologAdapter) Info(msg string, fields watermill.LogFields) {
	a.l.Info().Fields(map[string]any(fields)).Msg(msg)
}

func (a *ZerologAdapter) Debug(msg string, fields watermill.LogFields) {
	a.l.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (a *ZerologAdapter) Trace(msg string, fields watermill.LogFields) {
	a.l.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (a *ZerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &ZerologAdapter{l: a.l.With().Fields(map[string]any(fields)).Logger()}
}

var _ watermill.LoggerAdapter = (*ZerologAdapter)(nil)
