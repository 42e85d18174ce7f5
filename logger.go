package cqlmigrate

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns the logger used by the command line tool. Verbose
// logging is human readable and includes debug lines; otherwise it is JSON
// at info level. Both write to stderr.
func NewLogger(verbose bool) (*zap.Logger, error) {
	var conf zap.Config
	if verbose {
		conf = zap.NewDevelopmentConfig()
		conf.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		conf = zap.NewProductionConfig()
		conf.EncoderConfig.TimeKey = "ts"
		conf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	conf.OutputPaths = []string{"stderr"}
	return conf.Build()
}
