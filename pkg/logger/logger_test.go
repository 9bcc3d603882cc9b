package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestReplaceGlobal_RoutesPackageHelpers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ReplaceGlobal(zap.New(core))
	t.Cleanup(func() { ReplaceGlobal(build(globalLevel, 0)) })

	Infof("opened %s", "ETHUSDT")
	Warn("stale price")
	Zap().Error("journal down", zap.String("table", "trades"))

	entries := logs.All()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, "opened ETHUSDT", entries[0].Message)
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
		assert.Equal(t, "trades", entries[2].ContextMap()["table"])
	}
}

func TestFromZap(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := FromZap(zap.New(core))

	l.Debugf("hidden %d", 1)
	l.Infof("visible %d", 2)

	assert.Equal(t, 1, logs.Len())
	assert.Equal(t, "visible 2", logs.All()[0].Message)
}
