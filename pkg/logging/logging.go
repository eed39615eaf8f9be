// Package logging wraps zerolog with the handful of conventions the tree
// and knot share: a package-level logger, level parsing from master config,
// and optional syslog delivery alongside (or instead of) a log file.
package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, set by Init.
var Logger zerolog.Logger

// Level mirrors the strings accepted in MasterConfig.LogLevel.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level Level
	// Output receives JSON log lines. Defaults to os.Stdout.
	Output io.Writer
	// ToStderr additionally mirrors output to stderr, for the knot's
	// --log-stderr flag.
	ToStderr bool
}

// Init sets the global Logger per cfg.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.ToStderr && out != os.Stderr {
		out = zerolog.MultiLevelWriter(out, os.Stderr)
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

func parseLevel(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SyslogWriter opens a connection to the local syslog daemon at the given
// facility, tagged with the supervisor's own name. A caller may combine
// the returned writer with (or substitute it for) the log-directory file
// via zerolog.MultiLevelWriter; the tree and knot do not call it and do
// not read MasterConfig.SyslogFacility. log/syslog is standard library
// because no dependency in the corpus offers an alternative encoding of
// syslog's facility/priority bits — wrapping a third-party logger around
// the same syscalls would add a dependency without adding capability.
func SyslogWriter(facility, tag string) (io.Writer, error) {
	prio, err := parseFacility(facility)
	if err != nil {
		return nil, err
	}
	w, err := syslog.New(prio|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, fmt.Errorf("connect to syslog: %w", err)
	}
	return zerolog.SyslogLevelWriter(w), nil
}

func parseFacility(name string) (syslog.Priority, error) {
	switch name {
	case "", "daemon":
		return syslog.LOG_DAEMON, nil
	case "local0":
		return syslog.LOG_LOCAL0, nil
	case "local1":
		return syslog.LOG_LOCAL1, nil
	case "local2":
		return syslog.LOG_LOCAL2, nil
	case "local3":
		return syslog.LOG_LOCAL3, nil
	case "local4":
		return syslog.LOG_LOCAL4, nil
	case "local5":
		return syslog.LOG_LOCAL5, nil
	case "local6":
		return syslog.LOG_LOCAL6, nil
	case "local7":
		return syslog.LOG_LOCAL7, nil
	case "user":
		return syslog.LOG_USER, nil
	default:
		return 0, fmt.Errorf("unknown syslog facility %q", name)
	}
}

// LogFile opens (creating if necessary) a log file under dir named
// name+".log": knots use {default_log_dir}/{sandbox}.log and the tree
// uses {default_log_dir}/tree.log.
func LogFile(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	path := dir + "/" + name + ".log"
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithInstance returns a child logger tagged with an instance name.
func WithInstance(instance string) zerolog.Logger {
	return Logger.With().Str("instance", instance).Logger()
}

// WithSandbox returns a child logger tagged with a sandbox name.
func WithSandbox(sandbox string) zerolog.Logger {
	return Logger.With().Str("sandbox", sandbox).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(err error, format string, args ...interface{}) {
	Logger.Error().Err(err).Msgf(format, args...)
}

func Fatal(msg string) { Logger.Fatal().Msg(msg) }
