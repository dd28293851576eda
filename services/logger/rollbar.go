package logsvc

import (
	"fmt"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/user"
)

// RollbarLogger reports to Rollbar and logs locally through zap.
type RollbarLogger struct {
	zl *zap.SugaredLogger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(zl *zap.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "")
	return &RollbarLogger{zl: zl.Sugar()}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Sync flushes the local logger and waits for pending Rollbar reports.
func (l RollbarLogger) Sync() {
	rollbar.Wait()
	_ = l.zl.Sync()
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) (rbArgs []interface{}, fields []interface{}) {
	var usrSet bool
	rbArgs = make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	for i, arg := range args {
		switch a := arg.(type) {
		case user.User:
			// only set one User
			if !usrSet {
				rollbar.SetPerson(a.ID, a.Email, a.Email)
				fields = append(fields, "user_id", a.ID)
				usrSet = true
			}
			continue
		case error:
			fields = append(fields, zap.Error(a))
		case map[string]interface{}:
			for k, v := range a {
				fields = append(fields, k, v)
			}
		default:
			fields = append(fields, fmt.Sprintf("arg%d", i), a)
		}
		rbArgs = append(rbArgs, arg)
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return rbArgs, fields
}

func (l RollbarLogger) log(level zapcore.Level, msg string, args []interface{}) {
	rbArgs, fields := l.prepare(msg, args)
	switch level {
	case zapcore.DebugLevel:
		rollbar.Debug(rbArgs...)
		l.zl.Debugw(msg, fields...)
	case zapcore.InfoLevel:
		rollbar.Info(rbArgs...)
		l.zl.Infow(msg, fields...)
	case zapcore.WarnLevel:
		rollbar.Warning(rbArgs...)
		l.zl.Warnw(msg, fields...)
	case zapcore.ErrorLevel:
		rollbar.Error(rbArgs...)
		l.zl.Errorw(msg, fields...)
	default:
		rollbar.Critical(rbArgs...)
		rollbar.Wait()
		l.zl.Fatalw(msg, fields...)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) { l.log(zapcore.DebugLevel, msg, args) }
func (l RollbarLogger) Info(msg string, args ...interface{})  { l.log(zapcore.InfoLevel, msg, args) }
func (l RollbarLogger) Warn(msg string, args ...interface{})  { l.log(zapcore.WarnLevel, msg, args) }
func (l RollbarLogger) Error(msg string, args ...interface{}) { l.log(zapcore.ErrorLevel, msg, args) }
func (l RollbarLogger) Fatal(msg string, args ...interface{}) { l.log(zapcore.FatalLevel, msg, args) }
