package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

type BasicStruct struct {
	X int
	y string
	z string
}

type User struct {
	Name string
}

type StructWithStruct struct {
	x int
	Y User
	z string
}

type StructWithAnonymousStruct struct {
	x int
	Y struct {
		Y1 string
	}
	Z string
}

// bufAppender is an Appender that writes the stdout appender's tab-delimited format, minus
// its logger-name column, into an in-memory buffer so tests can inspect it.
type bufAppender struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (ba *bufAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	ba.mu.Lock()
	defer ba.mu.Unlock()

	toPrint := []string{
		entry.Time.Format(DefaultTimeFormatStr),
		strings.ToUpper(entry.Level.String()),
	}
	if entry.Caller.Defined {
		toPrint = append(toPrint, callerToString(&entry.Caller))
	}
	toPrint = append(toPrint, entry.Message)

	if len(fields) == 0 {
		fmt.Fprintln(ba.buf, strings.Join(toPrint, "\t"))
		return nil
	}

	jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := jsonEncoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		fmt.Fprintln(ba.buf, strings.Join(toPrint, "\t"))
		return err
	}
	toPrint = append(toPrint, string(buf.Bytes()))
	fmt.Fprintln(ba.buf, strings.Join(toPrint, "\t"))
	return nil
}

func (ba *bufAppender) Sync() error {
	return nil
}

// assertLogMatches fuzzy matches log lines: it checks the timestamp format, but ignores the
// exact time, and expects a match on the filename while tolerating any line number.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualTrimmed := strings.TrimSuffix(output, "\n")
	actualParts := strings.Split(actualTrimmed, "\t")
	expectedParts := strings.Split(expected, "\t")

	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])

	actualFile, actualLine, found := strings.Cut(actualParts[2], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFile, _, found := strings.Cut(expectedParts[2], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFile, test.ShouldEqual, expectedFile)
	_, err = strconv.Atoi(actualLine)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualParts[3], test.ShouldEqual, expectedParts[3])

	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	if len(actualParts) == 4 {
		return
	}

	expectedMap := make(map[string]any)
	err = json.Unmarshal([]byte(expectedParts[4]), &expectedMap)
	test.That(t, err, test.ShouldBeNil)

	actualMap := make(map[string]any)
	err = json.Unmarshal([]byte(actualParts[4]), &actualMap)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := &impl{"impl", NewAtomicLevelAt(DEBUG), false, []Appender{&bufAppender{buf: notStdout}}}

	logger.Info("impl Info log")
	assertLogMatches(t, notStdout, `2023-10-30T09:12:09.459-0400	INFO	impl_test.go:67	impl Info log`)

	logger.Infof("impl %s log", "infof")
	assertLogMatches(t, notStdout, `2023-10-30T09:45:20.764-0400	INFO	impl_test.go:131	impl infof log`)

	logger.Infow("impl logw", "key", "value")
	assertLogMatches(t, notStdout, `2023-10-30T13:19:45.806-0400	INFO	impl_test.go:132	impl logw	{"key":"value"}`)

	logger.Infow("impl logw", "key", "val", "StructWithAnonymousStruct",
		StructWithAnonymousStruct{1, struct{ Y1 string }{"y1"}, "foo"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129-0400	INFO	impl_test.go:121	impl logw	{"StructWithAnonymousStruct":{"Y":{"Y1":"y1"},"Z":"foo"},"key":"val"}`)

	logger.Infow("StructWithStruct", "key", "val", "StructWithStruct", StructWithStruct{1, User{"alice"}, "foo"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129-0400	INFO	impl_test.go:123	StructWithStruct	{"StructWithStruct":{"Y":{"Name":"alice"}},"key":"val"}`)

	logger.Infow("BasicStruct", "implOneKey", "1val", "BasicStruct", BasicStruct{1, "alice", "foo"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129-0400	INFO	impl_test.go:125	BasicStruct	{"BasicStruct":{"X":1},"implOneKey":"1val"}`)

	anonymousTypedValue := struct {
		x int
		y struct {
			Y1 string
		}
		Z string
	}{1, struct{ Y1 string }{"y1"}, "z"}

	logger.Infow("impl logw", "key", "val", "anonymous struct", anonymousTypedValue)
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129-0400	INFO	impl_test.go:119	impl logw	{"anonymous struct":{"Z":"z"},"key":"val"}`)

	logger.Infow("impl logw", "key", "val", "fmt.Sprintf", fmt.Sprintf("%+v", anonymousTypedValue))
	assertLogMatches(t, notStdout,
		`2023-10-30T13:20:47.129-0400	INFO	impl_test.go:127	impl logw	{"fmt.Sprintf":"{x:1 y:{Y1:y1} Z:z}","key":"val"}`)
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := &impl{"impl", NewAtomicLevelAt(WARN), false, []Appender{&bufAppender{buf: buf}}}

	logger.Info("should be dropped")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.Warn("should appear")
	test.That(t, buf.Len(), test.ShouldBeGreaterThan, 0)
}

func TestSublogger(t *testing.T) {
	parent := NewBlankLogger("vio")
	child := parent.Sublogger("estimator")
	test.That(t, child.GetLevel(), test.ShouldEqual, parent.GetLevel())
}
