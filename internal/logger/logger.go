package logger

import "go.uber.org/zap"

var log = zap.NewNop().Sugar()

// Init replaces the no-op logger. env "production" selects JSON output.
func Init(env string) {
	var (
		l   *zap.Logger
		err error
	)
	if env == "production" {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	log = l.Sugar().With("service", "vin-report")
}

func Sync() {
	_ = log.Sync()
}

func Debug(msg string, kv ...interface{}) {
	log.Debugw(msg, kv...)
}

func Info(msg string, kv ...interface{}) {
	log.Infow(msg, kv...)
}

func Warn(msg string, kv ...interface{}) {
	log.Warnw(msg, kv...)
}

func Error(msg string, kv ...interface{}) {
	log.Errorw(msg, kv...)
}

func Fatal(msg string, kv ...interface{}) {
	log.Fatalw(msg, kv...)
}

// PrintfLogger adapts the logger to libraries that want a Printf-style
// sink, such as cron and goose.
type PrintfLogger struct{}

func (PrintfLogger) Printf(format string, args ...interface{}) {
	log.Infof(format, args...)
}

func (PrintfLogger) Fatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}

func Printf() PrintfLogger {
	return PrintfLogger{}
}
