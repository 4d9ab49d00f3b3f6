package log

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogTestSuite struct {
	suite.Suite
}

func (s *LogTestSuite) TearDownTest() {
	s.Require().NoError(SetLevel("info"))
}

func (s *LogTestSuite) TestLevelFiltering() {
	cases := []struct {
		level   string
		want    zapcore.Level
		emitted map[string]bool
	}{
		{"debug", zapcore.DebugLevel, map[string]bool{"debug": true, "info": true, "warn": true, "error": true}},
		{"INFO", zapcore.InfoLevel, map[string]bool{"debug": false, "info": true, "warn": true, "error": true}},
		{" warn ", zapcore.WarnLevel, map[string]bool{"debug": false, "info": false, "warn": true, "error": true}},
		{"error", zapcore.ErrorLevel, map[string]bool{"debug": false, "info": false, "warn": false, "error": true}},
	}

	funcs := map[string]func(string, ...interface{}){
		"debug": Debug,
		"info":  Info,
		"warn":  Warn,
		"error": Error,
	}

	for _, tc := range cases {
		s.Require().NoError(SetLevel(tc.level))
		s.Equal(tc.want, GetLevel())
		for name, fn := range funcs {
			out := capture(fn, name+" msg", "run_id", "r-1")
			s.Equal(tc.emitted[name], out != "", "level=%s func=%s", tc.level, name)
		}
		s.Panics(func() { Panic("panic msg", "run_id", "r-1") })
	}
}

func (s *LogTestSuite) TestKeyValuesAreStructured() {
	s.Require().NoError(SetLevel("info"))
	out := capture(Info, "admission granted", "run_id", "r-42", "estimated_cpu_minutes", 12.5)

	var entry map[string]interface{}
	s.Require().NoError(json.Unmarshal([]byte(out), &entry))
	s.Equal("admission granted", entry["msg"])
	s.Equal("r-42", entry["run_id"])
	s.Equal(12.5, entry["estimated_cpu_minutes"])
	s.Contains(entry, "timestamp")
}

func (s *LogTestSuite) TestSetLevelRejectsUnknown() {
	s.Error(SetLevel("bogus"))
	s.Equal("hello world", Clean("  Hello World\n"))
}

func capture(logFunc func(string, ...interface{}), msg string, kv ...interface{}) string {
	var buffer bytes.Buffer

	oldLogger := zap.S()
	writer := bufio.NewWriter(&buffer)

	zap.ReplaceGlobals(zap.New(
		zapcore.NewCore(
			zapcore.NewJSONEncoder(config()),
			zapcore.AddSync(writer),
			logLevel,
		),
	))

	logFunc(msg, kv...)
	if err := writer.Flush(); err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(oldLogger.Desugar())

	return buffer.String()
}

func TestLogTestSuite(t *testing.T) {
	suite.Run(t, new(LogTestSuite))
}
