// config.go - Haupt-Konfigurationsfunktionen fuer moshi
//
// Dieses Modul enthaelt:
// - Host: Gibt Scheme und Host zurueck (MOSHI_HOST)
// - AllowedOrigins: Gibt erlaubte Origins zurueck (MOSHI_ORIGINS)
// - Models: Gibt das Override-Verzeichnis fuer Gewichte zurueck (MOSHI_MODELS)
// - LogLevel: Gibt Log-Level zurueck (MOSHI_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Modell- und Laufzeit-Variablen
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Host gibt Scheme und Host zurueck
// Konfigurierbar via MOSHI_HOST
// Default: http://127.0.0.1:8998
func Host() *url.URL {
	defaultPort := "8998"

	s := strings.TrimSpace(Var("MOSHI_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins gibt erlaubte Origins zurueck
// Konfigurierbar via MOSHI_ORIGINS (komma-separiert)
// Enthaelt Standard-Origins fuer localhost
func AllowedOrigins() (origins []string) {
	if s := Var("MOSHI_ORIGINS"); s != "" {
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

	return append(origins, "app://*", "file://*")
}

// Models gibt ein Verzeichnis zurueck, das vor dem Hugging Face Cache
// nach Gewichts- und Vokabulardateien durchsucht wird.
// Konfigurierbar via MOSHI_MODELS, leer wenn nicht gesetzt
func Models() string {
	return Var("MOSHI_MODELS")
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via MOSHI_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("MOSHI_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
