package logsvc

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trezcool/phqcare/core"
)

// NewZap builds the local logger: console output in debug mode, JSON otherwise.
func NewZap(conf *core.Config) (*zap.Logger, error) {
	var config zap.Config
	if conf.Debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.OutputPaths = []string{"stdout"}
	}
	logger, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("env", conf.Env), zap.String("build", conf.Build)), nil
}
