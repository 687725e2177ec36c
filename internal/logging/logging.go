// Package logging centralizes process-wide structured logging. It plays the
// role Dire Wolf's log_init/text_color_set split played, but
// built on charmbracelet/log instead of hand-rolled ANSI escapes.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

var (
	mu      sync.Mutex
	root    *log.Logger
	started bool
)

// Level mirrors the original LEVEL_TRACE..LEVEL_NO_LOGS ladder from
// original_source/src/mylib.c, mapped onto charmbracelet/log's levels.
type Level int

const (
	LevelNoLogs Level = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) toCharm() log.Level {
	switch l {
	case LevelError:
		return log.ErrorLevel
	case LevelWarning:
		return log.WarnLevel
	case LevelInfo:
		return log.InfoLevel
	case LevelDebug:
		return log.DebugLevel
	case LevelTrace:
		return log.DebugLevel
	default:
		return log.FatalLevel + 1 // effectively silent
	}
}

// Init sets up the process-wide logger. Safe to call once; subsequent calls
// are no-ops, matching logger_init's "already initialized" guard.
func Init(w io.Writer, level Level) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if started {
		return root
	}
	if w == nil {
		w = os.Stderr
	}
	root = log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	root.SetLevel(level.toCharm())
	started = true
	return root
}

// For returns a sub-logger tagged with the given component name, e.g.
// For("arbiter"), For("align"), For("serial").
func For(component string) *log.Logger {
	mu.Lock()
	r := root
	mu.Unlock()
	if r == nil {
		r = Init(os.Stderr, LevelInfo)
	}
	return r.With("component", component)
}

// timestampPattern matches original_source's get_date_time: a fixed-width,
// human-readable timestamp with no trailing newline.
const timestampPattern = "%Y-%m-%d %H:%M:%S"

// Timestamp renders the current instant in original_source's get_date_time
// format, used by Separator's startup banner.
func Timestamp(t time.Time) string {
	s, err := strftime.Format(timestampPattern, t)
	if err != nil {
		return t.UTC().Format("2006-01-02 15:04:05")
	}
	return s
}

// Separator writes a banner line to w, matching PRINT_SEPARATOR() in
// original_source/src/mylib.c.
func Separator(w io.Writer, pid int) {
	fmt.Fprintf(w, "------- <%d> %s -------\n", pid, Timestamp(time.Now()))
}
