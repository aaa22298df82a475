package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestLoggerAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "snowflake-loader", slog.LevelInfo)

	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-1"})
	ctx = WithRunID(ctx, "run-1")
	log.InfoContext(ctx, "fetched", "bytes", 12)

	m := decode(t, &buf)
	require.Equal(t, "fetched", m["msg"])
	require.Equal(t, "INFO", m["severity"])
	require.Contains(t, m, "ts")
	require.Equal(t, "req-1", m["aws_request_id"])
	require.Equal(t, "run-1", m["run_id"])
	require.Equal(t, "snowflake-loader", m["service"])
	require.Equal(t, float64(12), m["bytes"])
}

func TestLoggerWithoutContextFields(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "svc", slog.LevelInfo).With("step", "fetch").Info("x")

	m := decode(t, &buf)
	require.NotContains(t, m, "aws_request_id")
	require.NotContains(t, m, "run_id")
	require.Equal(t, "svc", m["service"])
	require.Equal(t, "fetch", m["step"])
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "svc", slog.LevelWarn).Info("dropped")
	require.Zero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
