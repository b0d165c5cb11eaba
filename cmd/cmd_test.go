package cmd

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toncenter/nano-wallet-gateway/config"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, Version+"\n", out.String())
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"serve", "--log-format", "xml", "--rpc-url", ""})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log-format")
	assert.Contains(t, err.Error(), "rpc-url")
}

func TestNewLogger(t *testing.T) {
	logger := newLogger(&config.Config{LogLevel: "debug", LogFormat: "json"})
	assert.True(t, logger.IsLevelEnabled(logrus.DebugLevel))

	logger = newLogger(&config.Config{LogLevel: "loud", LogFormat: "text"})
	assert.False(t, logger.IsLevelEnabled(logrus.DebugLevel))
}
