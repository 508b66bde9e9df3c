// Command server runs canvaslink's realtime coordination core: the HTTP
// login/canvas-management surface, the /ws and /webtransport/ws upgrade
// endpoints, and the background maintenance jobs (refresh registry sweep,
// event log archiver), wired together the way Newcanva/main.go and
// VuteTech-bor/server/cmd/server/main.go bootstrap their own servers —
// load config, build dependencies leaves-first, register routes, start
// background jobs, serve until a signal arrives, then shut down cleanly.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"github.com/canvaslink/canvaslink/internal/authgate"
	"github.com/canvaslink/canvaslink/internal/canvashub"
	"github.com/canvaslink/canvaslink/internal/connregistry"
	"github.com/canvaslink/canvaslink/internal/credentialstore"
	"github.com/canvaslink/canvaslink/internal/eventlog"
	"github.com/canvaslink/canvaslink/internal/httpapi"
	"github.com/canvaslink/canvaslink/internal/permcache"
	"github.com/canvaslink/canvaslink/internal/refreshregistry"
	"github.com/canvaslink/canvaslink/internal/scheduler"
	"github.com/canvaslink/canvaslink/internal/tokenservice"
	"github.com/canvaslink/canvaslink/internal/transport"
	"github.com/canvaslink/canvaslink/pkg/config"
	"github.com/canvaslink/canvaslink/pkg/cors"
	"github.com/canvaslink/canvaslink/pkg/fwlog"
)

func main() {
	if err := config.InitConfig(); err != nil {
		fwlog.Fatalf("failed to initialize configuration: %v", err)
	}
	cfg := config.Get()

	logLevel, err := fwlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fwlog.Warnf("invalid log level %q: %v; using info", cfg.LogLevel, err)
	}
	fwlog.SetLevel(logLevel)

	if cfg.JWTSecret == "" {
		fwlog.Fatalf("JWT_SECRET is required")
	}

	rr := refreshregistry.New()

	cache, err := permcache.New(cfg.Redis.Addr, cfg.PermissionCacheTTL)
	if err != nil {
		fwlog.Warnf("permission cache disabled: %v", err)
		cache = nil
	}

	store, err := credentialstore.Open(credentialstore.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	}, rr, cache)
	if err != nil {
		fwlog.Fatalf("credential store unreachable: %v", err)
	}
	defer store.Close()

	tokens := tokenservice.New(tokenservice.Config{
		SigningKey:          []byte(cfg.JWTSecret),
		TokenHardLifetime:   cfg.TokenHardLifetime,
		SoftReissueInterval: cfg.SoftReissueInterval,
	}, store)

	gate := authgate.New(tokens, rr)

	registry := connregistry.New()

	events, err := eventlog.New(cfg.DataDir)
	if err != nil {
		fwlog.Fatalf("event log store unwritable: %v", err)
	}
	defer events.Close()

	onFail := func(conn *connregistry.Connection) {
		registry.Remove(conn)
		if closer, ok := conn.Sink.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
	hubs := canvashub.NewManager(events, store, onFail)

	archiver, err := eventlog.NewArchiver(context.Background(), events, eventlog.ArchiverConfig{
		Endpoint:        cfg.MinIO.Endpoint,
		AccessKeyID:     cfg.MinIO.AccessKeyID,
		SecretAccessKey: cfg.MinIO.SecretAccessKey,
		BucketName:      cfg.MinIO.BucketName,
		UseSSL:          cfg.MinIO.UseSSL,
	})
	if err != nil {
		fwlog.Warnf("event log archiver disabled: %v", err)
		archiver = nil
	}
	// archiver is a possibly-nil *eventlog.Archiver; scheduler.New takes an
	// interface, so a nil *Archiver must be converted through a nil-valued
	// interface variable rather than passed directly — otherwise the
	// interface itself is non-nil (a typed nil) and scheduler.New's
	// nil-check for "archiving disabled" never fires.
	var archiverJob scheduler.Archiver
	if archiver != nil {
		archiverJob = archiver
	}

	sched, err := scheduler.New(rr, cfg.RRSweepInterval, cfg.TokenHardLifetime, archiverJob, cfg.ArchiveInterval)
	if err != nil {
		fwlog.Fatalf("failed to build scheduler: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	mux := http.NewServeMux()
	httpapi.New(store, tokens, gate).Routes(mux)

	ws := transport.NewServer(gate, registry, hubs)
	mux.HandleFunc("/ws", ws.HandleWebSocket)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"canvaslink"}`))
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	handler := cors.New().Handler(mux)
	httpServer := &http.Server{Addr: cfg.Addr, Handler: handler}

	// WebTransport requires TLS (it rides on QUIC); without a configured
	// certificate, canvaslink still serves plain HTTP with /ws only, the
	// way a developer running without certs would expect.
	var h3Server *http3.Server
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			fwlog.Fatalf("failed to load TLS certificate: %v", err)
		}
		wtServer := &webtransport.Server{
			H3: http3.Server{
				Addr:      cfg.Addr,
				TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
			},
			CheckOrigin: func(r *http.Request) bool { return true },
		}
		h3Server = &wtServer.H3
		mux.HandleFunc("/webtransport/ws", ws.HandleWebTransport(wtServer))

		go func() {
			fwlog.Infof("webtransport endpoint listening on https://%s/webtransport/ws", cfg.Addr)
			if err := h3Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fwlog.Errorf("http3 server error: %v", err)
			}
		}()
	} else {
		fwlog.Infof("certFile/keyFile not set; webtransport disabled, serving plain HTTP")
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fwlog.Infof("shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if h3Server != nil {
			_ = h3Server.Close()
		}
		if err := httpServer.Shutdown(ctx); err != nil {
			fwlog.Errorf("http server shutdown error: %v", err)
		}
	}()

	fwlog.Infof("canvaslink listening on %s", cfg.Addr)
	var serveErr error
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		serveErr = httpServer.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	} else {
		serveErr = httpServer.ListenAndServe()
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		fwlog.Fatalf("server error: %v", serveErr)
	}
}
