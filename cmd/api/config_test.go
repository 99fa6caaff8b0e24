package main

import (
	"errors"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"livetrail.dev/internal/appconf"
	"livetrail.dev/internal/logging"
	"livetrail.dev/internal/source"
)

const firebaseURL = "https://tracker-default-rtdb.firebaseio.com"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livetrail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig([]string{"-firebase-url", firebaseURL})
	require.NoError(t, err)

	want := appconf.Default()
	want.Source.Firebase.DatabaseURL = firebaseURL
	assert.Equal(t, want, cfg)
}

func TestParseConfigFlags(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-port", "8080",
		"-env", "production",
		"-api-keys", "a, b,,c",
		"-min-displacement", "25",
		"-poll-interval-ms", "500",
		"-snap-endpoint", "https://router.project-osrm.org",
		"-source", "kafka",
		"-kafka-brokers", "kafka-1:9092,kafka-2:9092",
		"-db-path", "/var/lib/livetrail/trail.db",
	})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, appconf.Production, cfg.Env)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.ApiKeys)
	assert.InDelta(t, 25, cfg.Engine.MinDisplacementMeters, 1e-9)
	assert.Equal(t, 500, cfg.Engine.PollIntervalMs)
	assert.Equal(t, "https://router.project-osrm.org", cfg.Engine.SnapServiceEndpoint)
	assert.Equal(t, appconf.SourceKafka, cfg.Source.Kind)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Source.Kafka.Brokers)
	assert.Equal(t, "gps-data", cfg.Source.Kafka.Topic)
	assert.Equal(t, "/var/lib/livetrail/trail.db", cfg.Store.Path)
}

func TestParseConfigFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
port: 9000
logLevel: debug
engine:
  minDisplacementMeters: 15
  snapProfile: walking
source:
  kind: firebase
  firebase:
    databaseURL: `+firebaseURL+`
    timeZone: Asia/Karachi
`)

	cfg, err := parseConfig([]string{"-config", path, "-port", "9100"})
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.InDelta(t, 15, cfg.Engine.MinDisplacementMeters, 1e-9)
	assert.Equal(t, "walking", cfg.Engine.SnapProfile)
	assert.Equal(t, "Asia/Karachi", cfg.Source.Firebase.TimeZone)
	// untouched by both layers
	assert.Equal(t, 2000, cfg.Engine.PollIntervalMs)
	assert.Equal(t, "TrackingData", cfg.Source.Firebase.Root)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing firebase url", args: nil},
		{name: "kafka without brokers", args: []string{"-source", "kafka"}},
		{name: "bad log level", args: []string{"-firebase-url", firebaseURL, "-log-level", "loud"}},
		{name: "test env with file store", args: []string{"-firebase-url", firebaseURL, "-env", "test"}},
		{name: "unknown flag", args: []string{"-nope"}},
		{name: "missing file", args: []string{"-config", "/does/not/exist.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestParseConfigHelp(t *testing.T) {
	_, err := parseConfig([]string{"-h"})
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

func TestBuildSource(t *testing.T) {
	cfg := appconf.Default().Source
	cfg.Firebase.DatabaseURL = firebaseURL
	cfg.Firebase.TimeZone = "Asia/Karachi"

	src, err := buildSource(cfg, http.DefaultClient, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &source.FirebaseSource{}, src)

	cfg.Firebase.TimeZone = "Mars/Olympus_Mons"
	_, err = buildSource(cfg, http.DefaultClient, logging.Discard())
	assert.Error(t, err)

	cfg.Kind = appconf.SourceKafka
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	src, err = buildSource(cfg, http.DefaultClient, logging.Discard())
	require.NoError(t, err)
	kafkaSrc, ok := src.(*source.KafkaSource)
	require.True(t, ok)
	assert.NoError(t, kafkaSrc.Close())

	cfg.Kind = "carrier-pigeon"
	_, err = buildSource(cfg, http.DefaultClient, logging.Discard())
	assert.Error(t, err)
}

func TestBuildSnapperWithoutEndpointIsPassthrough(t *testing.T) {
	client := buildSnapper(appconf.Default().Engine, http.DefaultClient, nil, logging.Discard())
	assert.False(t, client.Enabled())

	cfg := appconf.Default().Engine
	cfg.SnapServiceEndpoint = "https://router.project-osrm.org"
	assert.True(t, buildSnapper(cfg, http.DefaultClient, nil, logging.Discard()).Enabled())
}
