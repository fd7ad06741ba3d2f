// Package server - Router und Server-Setup fuer moshi
// Beinhaltet: Server-Struct, Router-Registrierung, Middleware, Server-Start
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"github.com/moshigo/moshi/asr"
	"github.com/moshigo/moshi/envconfig"
	"github.com/moshigo/moshi/logutil"
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/version"

	_ "github.com/moshigo/moshi/ml/backend/cpu"
)

var mode string = gin.DebugMode

// Server haelt ein geladenes Modell. Das Modell besitzt seine
// Attention-Caches selbst, deshalb laeuft immer nur eine Session.
type Server struct {
	addr   net.Addr
	preset string
	ctx    ml.Context
	models *asr.Models
	sem    *semaphore.Weighted

	defaults  asr.Options
	queueWarn int
}

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.DebugMode
	}

	gin.SetMode(mode)
}

// New wraps loaded models. ctx must stay valid for the lifetime of the
// server.
func New(ctx ml.Context, preset string, models *asr.Models, defaults asr.Options) *Server {
	return &Server{
		preset:    preset,
		ctx:       ctx,
		models:    models,
		sem:       semaphore.NewWeighted(1),
		defaults:  defaults,
		queueWarn: int(envconfig.QueueWarn()),
	}
}

// isLocalIP prueft ob die IP-Adresse zu einem lokalen Interface gehoert
func isLocalIP(ip netip.Addr) bool {
	if interfaces, err := net.Interfaces(); err == nil {
		for _, iface := range interfaces {
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}

			for _, a := range addrs {
				if parsed, _, err := net.ParseCIDR(a.String()); err == nil {
					if parsed.String() == ip.String() {
						return true
					}
				}
			}
		}
	}

	return false
}

// allowedHost prueft ob der Host erlaubt ist
func allowedHost(host string) bool {
	host = strings.ToLower(host)

	if host == "" || host == "localhost" {
		return true
	}

	if hostname, err := os.Hostname(); err == nil && host == strings.ToLower(hostname) {
		return true
	}

	for _, tld := range []string{"localhost", "local", "internal"} {
		if strings.HasSuffix(host, "."+tld) {
			return true
		}
	}

	return false
}

// allowedHostsMiddleware blockiert Anfragen von nicht erlaubten Hosts,
// solange der Server nur auf loopback lauscht
func allowedHostsMiddleware(addr net.Addr) gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr == nil {
			c.Next()
			return
		}

		if addr, err := netip.ParseAddrPort(addr.String()); err == nil && !addr.Addr().IsLoopback() {
			c.Next()
			return
		}

		host, _, err := net.SplitHostPort(c.Request.Host)
		if err != nil {
			host = c.Request.Host
		}

		if addr, err := netip.ParseAddr(host); err == nil {
			if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || isLocalIP(addr) {
				c.Next()
				return
			}
		}

		if allowedHost(host) {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}

			c.Next()
			return
		}

		c.AbortWithStatus(http.StatusForbidden)
	}
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "moshi is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "moshi is running") })
	r.HEAD("/api/version", s.VersionHandler)
	r.GET("/api/version", s.VersionHandler)
	r.GET("/health", s.HealthHandler)

	r.GET("/api/show", s.ShowHandler)
	r.POST("/api/transcribe", s.TranscribeHandler)

	return fullDuplex(r)
}

// fullDuplex erlaubt das Lesen des Request-Bodys, waehrend die Antwort
// bereits gestreamt wird. Sonst verwirft net/http den Rest des Bodys beim
// ersten Schreiben.
func fullDuplex(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if err := http.NewResponseController(w).EnableFullDuplex(); err != nil {
				slog.Debug("full duplex not available", "error", err)
			}
		}
		h.ServeHTTP(w, r)
	})
}

// Serve laedt das Modell aus der Umgebung und startet den HTTP-Server
func Serve(ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	backend, err := ml.NewBackend("cpu", ml.BackendParams{NumThreads: int(envconfig.NumThreads())})
	if err != nil {
		return err
	}
	defer backend.Close()
	ctx := backend.NewContext()
	defer ctx.Close()

	preset := envconfig.LMConfig()
	models, err := asr.Load(ctx, asr.LoadConfig{
		Preset:       preset,
		NumCodebooks: int(envconfig.NumCodebooks()),
	})
	if err != nil {
		return err
	}

	s := New(ctx, preset, models, asr.Options{
		Temperature: envconfig.Temperature(),
		Seed:        -1,
		MaxSteps:    int(envconfig.MaxSteps()),
	})
	s.addr = ln.Addr()
	if err := s.warmup(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))
	srvr := &http.Server{Handler: s.GenerateRoutes()}

	serverCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-serverCtx.Done()
		srvr.Close()
	}()

	if err := srvr.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) warmup() error {
	sess, err := asr.New(s.ctx, s.models.LM, s.models.Codec, s.models.Vocab, s.defaults)
	if err != nil {
		return err
	}
	sess.Warmup()
	return nil
}
