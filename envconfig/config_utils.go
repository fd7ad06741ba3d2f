// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String/StringWithDefault: String-Getter
// - Uint/Float: Zahlen-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

func StringWithDefault(key, defaultValue string) func() string {
	return func() string {
		if s := Var(key); s != "" {
			return s
		}
		return defaultValue
	}
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

// Float gibt eine Funktion zurueck, die einen float32 mit Default-Wert liest
func Float(key string, defaultValue float32) func() float32 {
	return func() float32 {
		if s := Var(key); s != "" {
			if f, err := strconv.ParseFloat(s, 32); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return float32(f)
			}
		}
		return defaultValue
	}
}

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"MOSHI_DEBUG":         {"MOSHI_DEBUG", LogLevel(), "Show additional debug information (e.g. MOSHI_DEBUG=1)"},
		"MOSHI_HOST":          {"MOSHI_HOST", Host(), "IP Address for the moshi server (default 127.0.0.1:8998)"},
		"MOSHI_MODELS":        {"MOSHI_MODELS", Models(), "Directory searched for weights and vocabularies before the Hugging Face cache"},
		"MOSHI_LM_CONFIG":     {"MOSHI_LM_CONFIG", LMConfig(), "Language model preset (default asr1b)"},
		"MOSHI_NUM_CODEBOOKS": {"MOSHI_NUM_CODEBOOKS", NumCodebooks(), "Codebooks used by the audio codec (default 32)"},
		"MOSHI_NUM_THREADS":   {"MOSHI_NUM_THREADS", NumThreads(), "Worker threads of the CPU backend"},
		"MOSHI_TEMPERATURE":   {"MOSHI_TEMPERATURE", Temperature(), "Text sampling temperature, 0 is greedy"},
		"MOSHI_MAX_STEPS":     {"MOSHI_MAX_STEPS", MaxSteps(), "Reset the language model of a session after this many steps (0 disables)"},
		"MOSHI_QUEUE_WARN":    {"MOSHI_QUEUE_WARN", QueueWarn(), "Warn when more audio chunks are queued (0 disables)"},
		"MOSHI_ORIGINS":       {"MOSHI_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
