package envconfig

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHost(t *testing.T) {
	cases := map[string]string{
		"":                      "127.0.0.1:11540",
		"1.2.3.4":               "1.2.3.4:11540",
		"1.2.3.4:5678":          "1.2.3.4:5678",
		"0.0.0.0":               "0.0.0.0:11540",
		":6789":                 "127.0.0.1:6789",
		"\"quoted.host:1234\"":  "quoted.host:1234",
		" spaced.host:1234 ":    "spaced.host:1234",
		"[::1]:11540":           "[::1]:11540",
	}

	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("MLXSERVE_HOST", value)
			require.Equal(t, want, Host())
		})
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"true":  slog.LevelDebug,
		"1":     slog.LevelDebug,
		"2":     slog.LevelDebug - 4,
	}

	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("MLXSERVE_DEBUG", value)
			require.Equal(t, want, LogLevel())
		})
	}
}

func TestUint(t *testing.T) {
	get := Uint("MLXSERVE_TEST_UINT", 7)

	require.EqualValues(t, 7, get())

	t.Setenv("MLXSERVE_TEST_UINT", "42")
	require.EqualValues(t, 42, get())

	// Ungueltige Werte fallen auf den Default zurueck
	t.Setenv("MLXSERVE_TEST_UINT", "-1")
	require.EqualValues(t, 7, get())

	t.Setenv("MLXSERVE_TEST_UINT", "abc")
	require.EqualValues(t, 7, get())
}

func TestFloat(t *testing.T) {
	get := Float("MLXSERVE_TEST_FLOAT", 0.25)

	require.EqualValues(t, 0.25, get())

	t.Setenv("MLXSERVE_TEST_FLOAT", "0.5")
	require.EqualValues(t, 0.5, get())

	t.Setenv("MLXSERVE_TEST_FLOAT", "nope")
	require.EqualValues(t, 0.25, get())
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("MLXSERVE_ORIGINS", "http://foo.example,http://bar.example")

	origins := AllowedOrigins()
	require.Contains(t, origins, "http://foo.example")
	require.Contains(t, origins, "http://bar.example")
	require.Contains(t, origins, "http://localhost")
	require.Contains(t, origins, "app://*")
}

func TestAsMap(t *testing.T) {
	envs := AsMap()

	for _, key := range []string{
		"MLXSERVE_HOST",
		"MLXSERVE_DEBUG",
		"MLXSERVE_MAX_CACHES",
		"MLXSERVE_MIN_PREFIX",
		"MLXSERVE_MIN_REUSE_RATIO",
		"MLXSERVE_PREFILL_BATCH",
		"MLXSERVE_NUM_PARALLEL",
		"MLXSERVE_CONTEXT_LENGTH",
		"MLXSERVE_MAX_TOKENS",
	} {
		require.Contains(t, envs, key)
		require.Equal(t, key, envs[key].Name)
		require.NotEmpty(t, envs[key].Description)
	}
}
