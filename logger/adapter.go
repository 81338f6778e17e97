package logger

import (
	"time"

	"github.com/rs/zerolog"
)

// event adapts a *zerolog.Event to LogEvent. zerolog events are nil when the
// level is filtered out; every zerolog method tolerates that.
type event struct {
	e *zerolog.Event
}

func (ev event) Msg(msg string) { ev.e.Msg(msg) }
func (ev event) Msgf(format string, args ...any) { ev.e.Msgf(format, args...) }

func (ev event) Err(err error) LogEvent { return event{ev.e.Err(err)} }
func (ev event) Str(key, value string) LogEvent { return event{ev.e.Str(key, value)} }
func (ev event) Int(key string, value int) LogEvent { return event{ev.e.Int(key, value)} }
func (ev event) Int64(key string, v int64) LogEvent { return event{ev.e.Int64(key, v)} }
func (ev event) Bool(key string, value bool) LogEvent { return event{ev.e.Bool(key, value)} }
func (ev event) Dur(key string, d time.Duration) LogEvent { return event{ev.e.Dur(key, d)} }
func (ev event) Interface(key string, i any) LogEvent { return event{ev.e.Interface(key, i)} }

// Info starts an info-level event.
func (l *ZeroLogger) Info() LogEvent { return event{l.zlog.Info()} }

// Error starts an error-level event.
func (l *ZeroLogger) Error() LogEvent { return event{l.zlog.Error()} }

// Debug starts a debug-level event.
func (l *ZeroLogger) Debug() LogEvent { return event{l.zlog.Debug()} }

// Warn starts a warn-level event.
func (l *ZeroLogger) Warn() LogEvent { return event{l.zlog.Warn()} }

// Fatal starts a fatal-level event; Msg exits the process.
func (l *ZeroLogger) Fatal() LogEvent { return event{l.zlog.Fatal()} }
