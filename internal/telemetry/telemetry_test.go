package telemetry

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
	"github.com/Jegerchristiank/transkriptor/internal/errors"
)

func TestInitDisabledIsNoOp(t *testing.T) {
	settings := &conf.Settings{}
	settings.Telemetry.Enabled = false

	require.NoError(t, Init(settings))
	assert.Nil(t, errors.GetTelemetryReporter())
}

func TestInitEnabledWithoutDSNFails(t *testing.T) {
	settings := &conf.Settings{}
	settings.Telemetry.Enabled = true

	err := Init(settings)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestBeforeSendScrubsIdentity(t *testing.T) {
	event := sentry.NewEvent()
	event.User = sentry.User{ID: "someone", IPAddress: "10.0.0.1"}
	event.ServerName = "workstation.local"
	event.Contexts["device"] = sentry.Context{"name": "laptop"}
	event.Contexts["os"] = sentry.Context{"name": "linux"}
	event.Extra["source_path"] = "/home/someone/interview.m4a"
	event.Extra["component"] = "engine"
	event.Tags = map[string]string{"hostname": "workstation", "component": "engine"}

	got := beforeSend(event, nil)

	require.NotNil(t, got)
	assert.True(t, got.User.IsEmpty())
	assert.Empty(t, got.ServerName)
	assert.NotContains(t, got.Contexts, "device")
	assert.NotContains(t, got.Contexts, "os")
	assert.NotContains(t, got.Extra, "source_path")
	assert.Contains(t, got.Extra, "component")
	assert.NotContains(t, got.Tags, "hostname")
	assert.Contains(t, got.Tags, "component")
}
