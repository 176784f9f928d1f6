package logging

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// DefaultTimeFormatStr is the timestamp layout used by the non-JSON appenders.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is a sink for individual log entries. Loggers can be configured with multiple
// appenders; each is given every log line that passes the logger's level filter.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// callerToString renders a zapcore.EntryCaller as "file.go:123".
func callerToString(caller *zapcore.EntryCaller) string {
	if caller == nil || !caller.Defined {
		return ""
	}
	idx := strings.LastIndexByte(caller.File, '/')
	file := caller.File
	if idx >= 0 {
		file = caller.File[idx+1:]
	}
	return file + ":" + strconv.Itoa(caller.Line)
}

type stdoutAppender struct {
	mu  sync.Mutex
	out *os.File
}

// NewStdoutAppender returns an Appender that writes tab-delimited log lines to stdout.
func NewStdoutAppender() Appender {
	return &stdoutAppender{out: os.Stdout}
}

// NewStdoutTestAppender is like NewStdoutAppender but is the appender attached by default to
// loggers constructed for use in tests, where output ordering across parallel tests is less of a
// concern than simply seeing the log line.
func NewStdoutTestAppender() Appender {
	return &stdoutAppender{out: os.Stdout}
}

func (sa *stdoutAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	const maxLength = 10
	toPrint := make([]string, 0, maxLength)
	toPrint = append(toPrint, entry.Time.Format(DefaultTimeFormatStr))
	toPrint = append(toPrint, strings.ToUpper(entry.Level.String()))
	toPrint = append(toPrint, entry.LoggerName)
	if entry.Caller.Defined {
		toPrint = append(toPrint, callerToString(&entry.Caller))
	}
	toPrint = append(toPrint, entry.Message)

	sa.mu.Lock()
	defer sa.mu.Unlock()

	if len(fields) == 0 {
		_, err := fmt.Fprintln(sa.out, strings.Join(toPrint, "\t"))
		return err
	}

	jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := jsonEncoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		_, ferr := fmt.Fprintln(sa.out, strings.Join(toPrint, "\t"))
		if ferr != nil {
			return ferr
		}
		return err
	}
	toPrint = append(toPrint, string(buf.Bytes()))
	_, err = fmt.Fprintln(sa.out, strings.Join(toPrint, "\t"))
	return err
}

func (sa *stdoutAppender) Sync() error {
	return sa.out.Sync()
}
