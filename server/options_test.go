package server

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T) *FSDriver {
	t.Helper()
	d, err := NewFSDriver(afero.NewMemMapFs())
	require.NoError(t, err)
	return d
}

func TestNewServer_Defaults(t *testing.T) {
	s, err := NewServer(":0", WithDriver(newTestDriver(t)))
	require.NoError(t, err)

	assert.Equal(t, "FTP Server Ready", s.welcomeMessage)
	assert.Equal(t, "UNIX Type: L8", s.serverName)
	assert.Equal(t, 5*time.Minute, s.maxIdleTime)
	assert.Equal(t, DefaultResponseBuffer, s.responseBuffer)
	assert.NotNil(t, s.logger)
	assert.Equal(t, 0, s.ActiveConnections())

	_, ok := s.Registry().Lookup("FEAT")
	assert.True(t, ok)
}

func TestNewServer_RequiresDriver(t *testing.T) {
	_, err := NewServer(":0")
	require.Error(t, err)
}

func TestWithDriver_Twice(t *testing.T) {
	d := newTestDriver(t)
	_, err := NewServer(":0", WithDriver(d), WithDriver(d))
	require.Error(t, err)
}

func TestOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"nil logger", WithLogger(nil)},
		{"negative idle time", WithMaxIdleTime(-time.Second)},
		{"negative write timeout", WithWriteTimeout(-time.Second)},
		{"negative total limit", WithMaxConnections(-1, 0)},
		{"negative per-IP limit", WithMaxConnections(0, -1)},
		{"negative response buffer", WithResponseBuffer(-1)},
		{"negative bandwidth", WithResponseBandwidth(-1)},
		{"empty handler verb", WithHandler("", HandlerFunc(handleNOOP))},
		{"nil handler", WithHandler("X", nil)},
		{"nil feature setup", WithFeatureSetup(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServer(":0", WithDriver(newTestDriver(t)), tt.opt)
			assert.Error(t, err)
		})
	}
}

func TestOptions_Applied(t *testing.T) {
	s, err := NewServer(":0",
		WithDriver(newTestDriver(t)),
		WithLogger(discardLogger()),
		WithMaxIdleTime(time.Minute),
		WithWriteTimeout(3*time.Second),
		WithMaxConnections(10, 2),
		WithWelcomeMessage("hi"),
		WithServerName("Windows_NT"),
		WithResponseBuffer(0),
		WithResponseBandwidth(1024),
	)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, s.maxIdleTime)
	assert.Equal(t, 3*time.Second, s.writeTimeout)
	assert.Equal(t, 10, s.maxConnections)
	assert.Equal(t, 2, s.maxConnectionsPerIP)
	assert.Equal(t, "hi", s.welcomeMessage)
	assert.Equal(t, "Windows_NT", s.serverName)
	assert.Equal(t, 0, s.responseBuffer)
	assert.Equal(t, int64(1024), s.responseBandwidth)
}

func TestRegistry_CustomAndDisabledVerbs(t *testing.T) {
	custom := HandlerFunc(func(ctx *CommandContext) error { return ctx.Reply(200, "custom") })
	s, err := NewServer(":0",
		WithDriver(newTestDriver(t)),
		WithHandler("site", custom),
		WithHandler("NOOP", custom),
		WithDisableCommands(StatusCommands...),
		WithDisableCommands("site"),
	)
	require.NoError(t, err)

	r := s.Registry()
	for _, verb := range StatusCommands {
		_, ok := r.Lookup(verb)
		assert.False(t, ok, verb)
	}
	_, ok := r.Lookup("SITE")
	assert.False(t, ok, "disabling wins over custom handlers")

	h, ok := r.Lookup("NOOP")
	require.True(t, ok)
	assert.NotNil(t, h)
	assert.True(t, r.IsInterrupt("ABOR"))
}
