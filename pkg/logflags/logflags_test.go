package logflags

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags() {
	debugger, ptrace, trap = false, false, false
	logOut = nil
	loggerFactory = nil
}

func TestMakeLogger_usingLoggerFactory(t *testing.T) {
	defer resetFlags()
	logOut = &bufferWriter{}

	expectedLogger := &logrusLogger{}
	SetLoggerFactory(func(level logrus.Level, fields Fields, out io.Writer) Logger {
		assert.Equal(t, logrus.TraceLevel, level)
		assert.Equal(t, Fields{"foo": "bar"}, fields)
		assert.Equal(t, logOut, out)
		return expectedLogger
	})

	actual := makeLogger(logrus.TraceLevel, Fields{"foo": "bar"})
	assert.Same(t, expectedLogger, actual)
}

func TestMakeFlaggableLogger(t *testing.T) {
	defer resetFlags()
	tests := []struct {
		flag  bool
		level logrus.Level
	}{
		{false, logrus.ErrorLevel},
		{true, logrus.DebugLevel},
	}
	for _, tc := range tests {
		actual := makeFlaggableLogger(tc.flag, Fields{"foo": "bar"})
		entry, ok := actual.(*logrusLogger)
		require.True(t, ok, "unexpected logger type %T", actual)
		assert.Equal(t, tc.level, entry.Logger.Level, "flag=%v", tc.flag)
		assert.Equal(t, logrus.Fields{"foo": "bar"}, entry.Data)
		assert.Same(t, textFormatterInstance, entry.Logger.Formatter)
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		log     bool
		logstr  string
		wantErr bool
		want    [3]bool
	}{
		{false, "", false, [3]bool{}},
		{false, "trap", true, [3]bool{}},
		{true, "", false, [3]bool{true, false, false}},
		{true, "ptrace,trap", false, [3]bool{false, true, true}},
		{true, "debugger,bogus", true, [3]bool{true, false, false}},
	}
	for i, tc := range tests {
		resetFlags()
		err := Setup(tc.log, tc.logstr, "")
		if tc.wantErr {
			assert.Error(t, err, "test #%d", i)
		} else {
			assert.NoError(t, err, "test #%d", i)
		}
		assert.Equal(t, tc.want, [3]bool{Debugger(), Ptrace(), Trap()}, "test #%d", i)
	}
	resetFlags()
}

func TestLoggerWritesToLogOut(t *testing.T) {
	defer resetFlags()
	buf := &bufferWriter{}
	logOut = buf
	trap = true

	TrapLogger().Debugf("stop at %#x", 0x401000)
	out := buf.String()
	assert.Contains(t, out, "debug kind=trap,layer=proc stop at 0x401000")

	buf.Reset()
	ptrace = false
	PtraceLogger().Debugf("peek")
	assert.Empty(t, buf.String())
}

func TestTextFormatter(t *testing.T) {
	entry := &logrus.Entry{
		Time:    time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "hello",
		Data:    logrus.Fields{"b": "needs quoting", "a": 1},
	}
	out, err := textFormatterInstance.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "2020-01-02T03:04:05Z info a=1,b=\"needs quoting\" hello\n", string(out))
	assert.False(t, strings.Contains(string(out), "\x1b"))
}

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}
