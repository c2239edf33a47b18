package logsvc

import (
	"fmt"
	"log"
	"os"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/user"
)

// Logger prints to a std logger and forwards every entry to Rollbar.
type Logger struct {
	std *log.Logger
}

var _ core.Logger = (*Logger)(nil)

// NewStdLogger returns the stdout logger of a component, e.g. "API", "WORKER".
func NewStdLogger(component string) *log.Logger {
	return log.New(os.Stdout, component+" : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
}

// NewRollbarLogger configures the Rollbar client from conf.
// Rollbar is only enabled outside debug mode and when a token is set.
func NewRollbarLogger(std *log.Logger, conf *core.Config) *Logger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(!conf.Debug && conf.RollbarToken != "")
	return &Logger{std: std}
}

// Close waits for queued Rollbar items to be sent.
func (l *Logger) Close() {
	rollbar.Close()
}

// prepare moves the acting user, if any, to the Rollbar person and returns the remaining args.
// args may hold an error, a map[string]interface{} of extras and a user.User.
func (l *Logger) prepare(msg string, args []interface{}) []interface{} {
	var person *user.User
	out := make([]interface{}, 0, len(args)+1)
	out = append(out, msg)
	for _, arg := range args {
		switch v := arg.(type) {
		case user.User:
			if person == nil {
				person = &v
			}
		case *user.User:
			if person == nil && v != nil {
				person = v
			}
		default:
			out = append(out, arg)
		}
	}
	if person != nil {
		rollbar.SetPerson(person.ID, person.Username, person.Email)
	} else {
		rollbar.ClearPerson()
	}
	return out
}

func (l *Logger) print(level, msg string, args []interface{}) {
	_ = l.std.Output(3, fmt.Sprintf("[%s] %s", level, msg))
	for _, arg := range args {
		if err, ok := arg.(error); ok {
			_ = l.std.Output(3, fmt.Sprintf("%+v", err))
		}
	}
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.print("DEBUG", msg, args)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.print("INFO", msg, args)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.print("WARN", msg, args)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.print("ERROR", msg, args)
}

func (l *Logger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	l.print("FATAL", msg, args)
	rollbar.Close()
	os.Exit(1)
}
