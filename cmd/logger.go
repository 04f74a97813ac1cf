package cmd

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// initLogger builds the global zap logger from log.level and log.format.
func initLogger(level, format string) error {
	var zapCfg zap.Config
	if format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return eris.Wrap(err, "parse log level")
	}
	zapCfg.Level.SetLevel(lvl)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
