// config.go - Konfiguration ueber Environment-Variablen
//
// Dieses Modul enthaelt:
// - Host: Listen-Adresse des Servers (MLXSERVE_HOST)
// - LogLevel: Log-Level (MLXSERVE_DEBUG)
// - MaxCaches: Groesse des Prompt-Cache-Pools (MLXSERVE_MAX_CACHES)
// - MinPrefix/MinReuseRatio: Schwellwerte fuer Cache-Reuse
// - PrefillBatch: Chunk-Groesse fuer den Prefill
// - NumParallel: Maximale Anzahl gleichzeitiger Generierungen
// - ContextLength/MaxTokens: Kontext- und Generierungslimits
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
)

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// Host gibt die Listen-Adresse zurueck
// Konfigurierbar via MLXSERVE_HOST
// Default: 127.0.0.1:11540
func Host() string {
	defaultPort := "11540"

	s := Var("MLXSERVE_HOST")
	if s == "" {
		return net.JoinHostPort("127.0.0.1", defaultPort)
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		host, port = s, defaultPort
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// LogLevel gibt das Log-Level zurueck
// MLXSERVE_DEBUG=1 aktiviert Debug, groessere Werte Trace
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("MLXSERVE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// AllowedOrigins gibt die erlaubten CORS-Origins zurueck
// Konfigurierbar via MLXSERVE_ORIGINS (kommasepariert)
func AllowedOrigins() []string {
	var origins []string
	if s := Var("MLXSERVE_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	origins = append(origins,
		"app://*",
		"file://*",
		"tauri://*",
		"vscode-webview://*",
		"vscode-file://*",
	)

	return origins
}

// ModelPath gibt den Pfad des zu ladenden Models zurueck (MLXSERVE_MODEL)
func ModelPath() string {
	return Var("MLXSERVE_MODEL")
}

// Backend gibt den Namen des Executor-Backends zurueck (MLXSERVE_BACKEND)
// Leer: das einzige registrierte Backend
func Backend() string {
	return Var("MLXSERVE_BACKEND")
}

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Float gibt eine Funktion zurueck, die einen float64 mit Default-Wert liest
func Float(key string, defaultValue float64) func() float64 {
	return func() float64 {
		if s := Var(key); s != "" {
			if f, err := strconv.ParseFloat(s, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return f
			}
		}
		return defaultValue
	}
}

var (
	// MaxCaches ist die maximale Anzahl gehaltener Prompt-Caches
	MaxCaches = Uint("MLXSERVE_MAX_CACHES", 8)
	// MinPrefix ist die minimale Prefix-Laenge fuer Cache-Reuse
	MinPrefix = Uint("MLXSERVE_MIN_PREFIX", 10)
	// MinReuseRatio ist das minimale Verhaeltnis Prefix/Cache-Laenge
	MinReuseRatio = Float("MLXSERVE_MIN_REUSE_RATIO", 0.25)
	// PrefillBatch ist die Chunk-Groesse fuer den Prefill
	PrefillBatch = Uint("MLXSERVE_PREFILL_BATCH", 512)
	// NumParallel ist die maximale Anzahl gleichzeitiger Generierungen
	NumParallel = Uint("MLXSERVE_NUM_PARALLEL", 2)
	// ContextLength ist die Kontextlaenge des Models
	ContextLength = Uint("MLXSERVE_CONTEXT_LENGTH", 8192)
	// MaxTokens ist das Default-Limit fuer generierte Tokens
	MaxTokens = Uint("MLXSERVE_MAX_TOKENS", 8192)
)

// EnvVar beschreibt eine Environment-Variable fuer die CLI-Dokumentation
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"MLXSERVE_DEBUG":           {"MLXSERVE_DEBUG", LogLevel(), "Show additional debug information (e.g. MLXSERVE_DEBUG=1)"},
		"MLXSERVE_HOST":            {"MLXSERVE_HOST", Host(), "IP Address for the server (default 127.0.0.1:11540)"},
		"MLXSERVE_MAX_CACHES":      {"MLXSERVE_MAX_CACHES", MaxCaches(), "Maximum number of cached prompts (default 8)"},
		"MLXSERVE_MIN_PREFIX":      {"MLXSERVE_MIN_PREFIX", MinPrefix(), "Minimum shared prefix length for cache reuse (default 10)"},
		"MLXSERVE_MIN_REUSE_RATIO": {"MLXSERVE_MIN_REUSE_RATIO", MinReuseRatio(), "Minimum prefix/cache length ratio for cache reuse (default 0.25)"},
		"MLXSERVE_PREFILL_BATCH":   {"MLXSERVE_PREFILL_BATCH", PrefillBatch(), "Prefill chunk size in tokens (default 512)"},
		"MLXSERVE_NUM_PARALLEL":    {"MLXSERVE_NUM_PARALLEL", NumParallel(), "Maximum number of parallel requests (default 2)"},
		"MLXSERVE_CONTEXT_LENGTH":  {"MLXSERVE_CONTEXT_LENGTH", ContextLength(), "Context length to use unless otherwise specified (default 8192)"},
		"MLXSERVE_MAX_TOKENS":      {"MLXSERVE_MAX_TOKENS", MaxTokens(), "Default limit for generated tokens (default 8192)"},
		"MLXSERVE_ORIGINS":         {"MLXSERVE_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"MLXSERVE_MODEL":           {"MLXSERVE_MODEL", ModelPath(), "Path of the model to load"},
		"MLXSERVE_BACKEND":         {"MLXSERVE_BACKEND", Backend(), "Executor backend to use"},
	}
}
