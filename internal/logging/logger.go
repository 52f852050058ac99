// Package logging provides the structured, asynchronous logger used
// by every internal package (spec.md §5 "a singleton log thread drains
// a queue of formatted records so publishers never block on I/O").
package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// LogLevel is the minimum severity a Logger will emit.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config holds logger construction options.
type Config struct {
	Level LogLevel
	// Output receives formatted records; defaults to os.Stderr.
	Output io.Writer
	// RingSize bounds the async drain queue; records submitted once it
	// is full are dropped and counted in Dropped().
	RingSize int
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Output: os.Stderr, RingSize: 4096}
}

type record struct {
	level  LogLevel
	msg    string
	fields []any
}

// Logger drains records asynchronously on a single background
// goroutine so that callers on the dispatcher, device-worker, or
// buffer-worker threads never block on log I/O (spec.md §5).
type Logger struct {
	zl    zerolog.Logger
	level int32 // LogLevel, accessed atomically so SetLevel is lock-free

	ring    chan record
	done    chan struct{}
	wg      sync.WaitGroup
	dropped int64

	mu       sync.Mutex
	refCount int
}

// NewLogger constructs a Logger without starting its drain goroutine;
// used for synchronous unit-test loggers. Use Initialize for the
// ref-counted async singleton lifecycle.
func NewLogger(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	l := &Logger{
		zl:    zerolog.New(out).With().Timestamp().Logger(),
		level: int32(cfg.Level),
	}
	return l
}

func (l *Logger) start(ringSize int) {
	if ringSize <= 0 {
		ringSize = 4096
	}
	l.ring = make(chan record, ringSize)
	l.done = make(chan struct{})
	l.wg.Add(1)
	go l.drain()
}

func (l *Logger) drain() {
	defer l.wg.Done()
	for {
		select {
		case r, ok := <-l.ring:
			if !ok {
				return
			}
			l.emit(r)
		case <-l.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case r := <-l.ring:
					l.emit(r)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) emit(r record) {
	var ev *zerolog.Event
	switch r.level {
	case LevelDebug:
		ev = l.zl.Debug()
	case LevelWarn:
		ev = l.zl.Warn()
	case LevelError:
		ev = l.zl.Error()
	default:
		ev = l.zl.Info()
	}
	for i := 0; i+1 < len(r.fields); i += 2 {
		key, _ := r.fields[i].(string)
		ev = ev.Interface(key, r.fields[i+1])
	}
	ev.Msg(r.msg)
}

func (l *Logger) submit(r record) {
	if LogLevel(atomic.LoadInt32(&l.level)) > r.level {
		return
	}
	if l.ring == nil {
		// Synchronous fallback for loggers built via NewLogger directly.
		l.emit(r)
		return
	}
	select {
	case l.ring <- r:
	default:
		atomic.AddInt64(&l.dropped, 1)
	}
}

// SetLevel adjusts the minimum emitted severity.
func (l *Logger) SetLevel(level LogLevel) { atomic.StoreInt32(&l.level, int32(level)) }

// Dropped returns the count of records discarded because the drain
// ring was full.
func (l *Logger) Dropped() int64 { return atomic.LoadInt64(&l.dropped) }

func (l *Logger) Debug(msg string, fields ...any) { l.submit(record{LevelDebug, msg, fields}) }
func (l *Logger) Info(msg string, fields ...any)  { l.submit(record{LevelInfo, msg, fields}) }
func (l *Logger) Warn(msg string, fields ...any)  { l.submit(record{LevelWarn, msg, fields}) }
func (l *Logger) Error(msg string, fields ...any) { l.submit(record{LevelError, msg, fields}) }

// stop signals the drain goroutine to flush pending records and exit,
// and waits for it.
// Safe to call only once, when refCount has dropped to zero.
func (l *Logger) stop() {
	if l.ring == nil {
		return
	}
	close(l.done)
	l.wg.Wait()
}

var (
	singletonMu sync.Mutex
	singleton   *Logger
)

// Initialize bumps the process-wide logger's reference count,
// constructing and starting its drain goroutine on the first call
// (spec.md §5 "reference-counted init/finalize... last exiting owner
// tears the resource down").
func Initialize(cfg *Config) *Logger {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		singleton = NewLogger(cfg)
		ringSize := 4096
		if cfg != nil && cfg.RingSize > 0 {
			ringSize = cfg.RingSize
		}
		singleton.start(ringSize)
	}
	singleton.refCount++
	return singleton
}

// Finalize drops the process-wide logger's reference count, tearing
// down the drain goroutine once the last owner has finalized.
func Finalize() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		return
	}
	singleton.refCount--
	if singleton.refCount <= 0 {
		singleton.stop()
		singleton = nil
	}
}

// Default returns the process-wide logger, initializing it with
// default settings if no caller has done so yet. Unlike Initialize
// this does not bump the reference count; it exists for call sites
// that merely want to log through whatever is already configured.
func Default() *Logger {
	singletonMu.Lock()
	if singleton != nil {
		defer singletonMu.Unlock()
		return singleton
	}
	singletonMu.Unlock()
	return Initialize(DefaultConfig())
}

// SetDefault installs l as the process-wide logger without going
// through reference counting; intended for tests that want a
// synchronous logger attached to a buffer they can inspect.
func SetDefault(l *Logger) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	singleton = l
}

func Debug(msg string, fields ...any) { Default().Debug(msg, fields...) }
func Info(msg string, fields ...any)  { Default().Info(msg, fields...) }
func Warn(msg string, fields ...any)  { Default().Warn(msg, fields...) }
func Error(msg string, fields ...any) { Default().Error(msg, fields...) }
