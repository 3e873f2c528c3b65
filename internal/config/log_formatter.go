package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	colorRed         = 31
	colorGreen       = 32
	colorYellow      = 33
	colorBlue        = 36
	colorGray        = 37
	colorLightGreen  = 92
	colorLightYellow = 93
	colorCyan        = 96
)

// LogFormatter renders entries as key=value pairs with stable field order.
type LogFormatter struct {
	NoColor bool
}

func (f *LogFormatter) paint(color int, s string) string {
	if f.NoColor {
		return s
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, s)
}

func levelColor(level log.Level) int {
	switch level {
	case log.DebugLevel, log.TraceLevel:
		return colorGray
	case log.WarnLevel:
		return colorYellow
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		return colorRed
	default:
		return colorBlue
	}
}

func (f *LogFormatter) pair(key, value string, valueColor int) string {
	return " " + f.paint(colorCyan, key) + "=" + f.paint(valueColor, value)
}

func (f *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	b := &strings.Builder{}
	b.WriteString(f.paint(colorCyan, "level"))
	b.WriteString("=")
	b.WriteString(f.paint(levelColor(entry.Level), strings.ToUpper(entry.Level.String())[:4]))
	b.WriteString(f.pair("ts", entry.Time.Format("2006-01-02 15:04:05.000"), colorLightYellow))

	if entry.HasCaller() {
		b.WriteString(f.pair("source", fmt.Sprintf("%s:%d", entry.Caller.File, entry.Caller.Line), colorLightYellow))
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		val := entry.Data[k]
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		m, err := json.Marshal(val)
		if err != nil || len(m) == 0 {
			continue
		}
		s := string(m)
		valueColor := colorCyan
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			valueColor = colorGreen
		} else if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") {
			valueColor = colorLightYellow
		}
		b.WriteString(f.pair(k, s, valueColor))
	}
	b.WriteString(f.pair("msg", strconv.Quote(entry.Message), colorLightGreen))

	output := strings.NewReplacer("\r", "\\r", "\n", "\\n").Replace(b.String())
	return []byte(output + "\n"), nil
}
