package stats

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// schedulerLogger routes gocron messages into logrus.
type schedulerLogger struct {
	entry *log.Entry
}

func (l *schedulerLogger) Debug(msg string, args ...any) {
	l.entry.WithFields(toFields(args)).Debug(msg)
}

func (l *schedulerLogger) Info(msg string, args ...any) {
	l.entry.WithFields(toFields(args)).Info(msg)
}

func (l *schedulerLogger) Warn(msg string, args ...any) {
	l.entry.WithFields(toFields(args)).Warn(msg)
}

func (l *schedulerLogger) Error(msg string, args ...any) {
	l.entry.WithFields(toFields(args)).Error(msg)
}

func toFields(args []any) log.Fields {
	fields := make(log.Fields, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		if i+1 < len(args) {
			fields[key] = args[i+1]
		} else {
			fields["extra"] = args[i]
		}
	}
	return fields
}
