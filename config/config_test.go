package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiresRPCURL(t *testing.T) {
	_, err := Validate(&Record{Token: "tok"})
	assert.Error(t, err)
}

func TestValidateRequiresToken(t *testing.T) {
	_, err := Validate(&Record{RPCURL: "http://localhost:8080"})
	assert.Error(t, err)
}

func TestValidateForcesNetwork(t *testing.T) {
	r, err := Validate(&Record{RPCURL: "http://localhost:8080", Token: "tok", Network: "mainnet"})
	require.NoError(t, err)
	assert.Equal(t, Network, r.Network)
}

func TestValidateDefaultsPollInterval(t *testing.T) {
	r, err := Validate(&Record{RPCURL: "http://localhost:8080", Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, r.PollInterval)
}

func TestClampPollIntervalBoundaries(t *testing.T) {
	assert.Equal(t, MinPollInterval, ClampPollInterval(0))
	assert.Equal(t, MinPollInterval, ClampPollInterval(-500))
	assert.Equal(t, MinPollInterval, ClampPollInterval(999))
	assert.Equal(t, MinPollInterval, ClampPollInterval(1000))
	assert.Equal(t, MaxPollInterval, ClampPollInterval(60000))
	assert.Equal(t, MaxPollInterval, ClampPollInterval(60001))
	assert.Equal(t, 5000, ClampPollInterval(5000))
}

func TestValidateAcceptsUTCAndOffsetTimezones(t *testing.T) {
	for _, tz := range []string{"", "UTC", "utc", "+5.5", "-8", "0"} {
		_, err := Validate(&Record{RPCURL: "http://localhost:8080", Token: "tok", Timezone: tz})
		assert.NoError(t, err, "timezone %q should be accepted", tz)
	}
}

func TestValidateRejectsMalformedTimezone(t *testing.T) {
	for _, tz := range []string{"EST", "UTC+5", "++5"} {
		_, err := Validate(&Record{RPCURL: "http://localhost:8080", Token: "tok", Timezone: tz})
		assert.Error(t, err, "timezone %q should be rejected", tz)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	r := &Record{
		RPCURL:       "http://localhost:8080",
		Token:        "tok",
		PrivateKey:   "salt:iv:tag:ct",
		PollInterval: 5000,
		Timezone:     "UTC",
	}
	require.NoError(t, Save(path, r))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", loaded.Token)
	assert.Equal(t, Network, loaded.Network)
	assert.Equal(t, 5000, loaded.PollInterval)
}

func TestSaveWritesIndentedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	require.NoError(t, Save(path, &Record{RPCURL: "http://localhost:8080", Token: "tok"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "tok", raw["token"])
}

func TestRPCEndpointAppendsSuffixOnce(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/rpc", RPCEndpoint("http://localhost:8080"))
	assert.Equal(t, "http://localhost:8080/rpc", RPCEndpoint("http://localhost:8080/rpc"))
}
