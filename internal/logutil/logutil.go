// Package logutil provides a small leveled, key/value structured logger in
// the style this codebase's storage layer expects: plain Go values as
// alternating key/value pairs, a colorized console handler when stderr is a
// terminal, and a Crit/Fatal path for invariant violations that must abort
// the process rather than return an error.
package logutil

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a log severity level, ordered from most to least severe.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	default:
		return "?????"
	}
}

func (l Lvl) color() string {
	switch l {
	case LvlCrit:
		return "\x1b[35m"
	case LvlError:
		return "\x1b[31m"
	case LvlWarn:
		return "\x1b[33m"
	case LvlInfo:
		return "\x1b[32m"
	case LvlDebug:
		return "\x1b[36m"
	default:
		return ""
	}
}

// Record is a single log event.
type Record struct {
	Time  time.Time
	Lvl   Lvl
	Msg   string
	Ctx   []interface{}
	Call  stack.Call
}

// Handler processes a Record.
type Handler interface {
	Log(r *Record) error
}

// Logger emits Records at or below its configured level to a Handler.
type Logger struct {
	mu      sync.Mutex
	lvl     Lvl
	handler Handler
	ctx     []interface{}
}

var (
	root     *Logger
	rootOnce sync.Once
)

// Root returns the process-wide default logger, auto-detecting whether
// stderr is a terminal to pick a colorized or plain handler.
func Root() *Logger {
	rootOnce.Do(func() {
		root = New(os.Stderr, LvlInfo)
	})
	return root
}

// New constructs a Logger writing to w at the given level.
func New(w io.Writer, lvl Lvl) *Logger {
	var out io.Writer = w
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		if useColor {
			out = colorable.NewColorable(f)
		}
	}
	return &Logger{lvl: lvl, handler: &streamHandler{w: out, color: useColor}}
}

// With returns a derived Logger that always includes the given key/value
// pairs in every subsequent Record.
func (l *Logger) With(ctx ...interface{}) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	nctx := make([]interface{}, 0, len(l.ctx)+len(ctx))
	nctx = append(nctx, l.ctx...)
	nctx = append(nctx, ctx...)
	return &Logger{lvl: l.lvl, handler: l.handler, ctx: nctx}
}

func (l *Logger) write(lvl Lvl, msg string, ctx []interface{}) {
	l.mu.Lock()
	cur := l.lvl
	h := l.handler
	base := l.ctx
	l.mu.Unlock()
	if lvl > cur {
		return
	}
	full := make([]interface{}, 0, len(base)+len(ctx))
	full = append(full, base...)
	full = append(full, ctx...)
	r := &Record{Time: time.Now(), Lvl: lvl, Msg: msg, Ctx: full, Call: stack.Caller(2)}
	_ = h.Log(r)
}

func (l *Logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }

// Crit logs at LvlCrit then calls os.Exit(1). Use for faults the spec
// classifies as fatal (page corruption, durability I/O loss).
func (l *Logger) Crit(msg string, ctx ...interface{}) {
	l.write(LvlCrit, msg, ctx)
	os.Exit(1)
}

type streamHandler struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

func (h *streamHandler) Log(r *Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var b strings.Builder
	ts := r.Time.Format("2006-01-02T15:04:05.000Z0700")
	if h.color {
		b.WriteString(r.Lvl.color())
		b.WriteString(fmt.Sprintf("[%s] %-5s\x1b[0m %s", ts, r.Lvl, r.Msg))
	} else {
		b.WriteString(fmt.Sprintf("[%s] %-5s %s", ts, r.Lvl, r.Msg))
	}
	for i := 0; i+1 < len(r.Ctx); i += 2 {
		fmt.Fprintf(&b, " %v=%v", r.Ctx[i], r.Ctx[i+1])
	}
	if len(r.Ctx)%2 == 1 {
		fmt.Fprintf(&b, " %v=MISSING", r.Ctx[len(r.Ctx)-1])
	}
	b.WriteByte('\n')
	_, err := io.WriteString(h.w, b.String())
	return err
}
