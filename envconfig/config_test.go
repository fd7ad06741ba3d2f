package envconfig

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHost(t *testing.T) {
	cases := map[string]struct {
		value  string
		expect string
	}{
		"empty":        {"", "http://127.0.0.1:8998"},
		"only address": {"1.2.3.4", "http://1.2.3.4:8998"},
		"only port":    {":1234", "http://:1234"},
		"address port": {"1.2.3.4:1234", "http://1.2.3.4:1234"},
		"hostname":     {"example.com", "http://example.com:8998"},
		"https":        {"https://example.com", "https://example.com:443"},
		"ipv6":         {"[::1]:1234", "http://[::1]:1234"},
		"bad port":     {"1.2.3.4:99999", "http://1.2.3.4:8998"},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("MOSHI_HOST", tt.value)
			assert.Equal(t, tt.expect, Host().String())
		})
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     slog.Level(-8),
	}
	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("MOSHI_DEBUG", value)
			assert.Equal(t, want, LogLevel())
		})
	}
}

func TestDefaults(t *testing.T) {
	for _, k := range []string{"MOSHI_LM_CONFIG", "MOSHI_NUM_CODEBOOKS", "MOSHI_TEMPERATURE", "MOSHI_MAX_STEPS"} {
		t.Setenv(k, "")
	}
	assert.Equal(t, "asr1b", LMConfig())
	assert.Equal(t, uint(32), NumCodebooks())
	assert.Zero(t, Temperature())
	assert.Zero(t, MaxSteps())

	t.Setenv("MOSHI_LM_CONFIG", "'asr2b'")
	assert.Equal(t, "asr2b", LMConfig(), "Quotes werden entfernt")

	t.Setenv("MOSHI_NUM_CODEBOOKS", "abc")
	assert.Equal(t, uint(32), NumCodebooks(), "ungueltiger Wert faellt auf Default zurueck")

	t.Setenv("MOSHI_TEMPERATURE", "0.7")
	assert.InDelta(t, 0.7, Temperature(), 1e-6)
}

func TestOrigins(t *testing.T) {
	t.Setenv("MOSHI_ORIGINS", "http://10.0.0.1,https://x.org")
	origins := AllowedOrigins()
	assert.Equal(t, []string{"http://10.0.0.1", "https://x.org"}, origins[:2])
	assert.Contains(t, origins, "http://localhost:*")
}

func TestAsMap(t *testing.T) {
	m := AsMap()
	for k, v := range m {
		assert.Equal(t, k, v.Name)
		assert.NotEmpty(t, v.Description)
	}
	assert.Contains(t, Values(), "MOSHI_LM_CONFIG")
}
