package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/time/rate"

	"lanrelay/internal/httpapi"
	"lanrelay/internal/idgen"
	"lanrelay/internal/lobby"
	"lanrelay/internal/peerconn"
	"lanrelay/internal/signalling"
	"lanrelay/internal/supervisor"
	"lanrelay/store"
)

// Version is stamped into builds via -ldflags; the default value marks a
// development build.
var Version = "0.1.0-dev"

func main() {
	// Check for CLI subcommands before parsing the server's own flags.
	if len(os.Args) > 1 {
		cliDB := "lanrelay.db"
		if RunCLI(os.Args[1:], cliDB) {
			return
		}
	}

	addr := flag.String("addr", ":3000", "HTTPS listen address")
	dbPath := flag.String("db", "lanrelay.db", "SQLite database path")
	idleTimeout := flag.Duration("idle-timeout", 30*time.Second, "HTTP idle timeout (reserved)")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	staticDir := flag.String("static-dir", "", "directory of browser client assets to serve at / (empty to disable)")
	connectRate := flag.Float64("connect-rate", 1, "maximum /connect attempts per second per IP (0 disables)")
	connectBurst := flag.Int("connect-burst", 5, "burst size for the per-IP /connect rate limiter")
	turnURL := flag.String("turn-url", "", "TURN server URL (e.g. turn:turn.example.com:3478)")
	turnUsername := flag.String("turn-username", "", "TURN server username")
	turnCredential := flag.String("turn-credential", "", "TURN server credential")
	logJSON := flag.Bool("log-json", false, "emit logs as JSON instead of text")
	flag.Parse()
	_ = idleTimeout // reserved for a future http.Server-level idle timeout knob

	logger := newLogger(*logJSON)

	st, err := store.New(*dbPath)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	displayName := st.DisplayName("lanrelay")
	logger.Info("starting", "version", Version, "display_name", displayName)

	iceServers := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
	if *turnURL != "" {
		turnServer := webrtc.ICEServer{URLs: []string{*turnURL}}
		if *turnUsername != "" {
			turnServer.Username = *turnUsername
		}
		if *turnCredential != "" {
			turnServer.Credential = *turnCredential
		}
		iceServers = append(iceServers, turnServer)
		logger.Info("TURN server configured", "url", *turnURL)
	}
	if extra, err := st.GetICEServers(); err != nil {
		logger.Warn("load extra ICE servers", "err", err)
	} else {
		for _, e := range extra {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: e.URLs, Username: e.Username, Credential: e.Credential})
		}
	}

	tlsHostname := ""
	if host, _, err := net.SplitHostPort(*addr); err == nil && host != "" {
		tlsHostname = host
	}
	tlsConfig, fingerprint, err := generateTLSConfig(*certValidity, tlsHostname, displayName, iceServerHosts(iceServers))
	if err != nil {
		logger.Error("generate TLS certificate", "err", err)
		os.Exit(1)
	}
	logger.Info("TLS certificate generated", "fingerprint", fingerprint)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdown := make(chan struct{})

	gen := idgen.NewFromClock()
	lob := lobby.New(logger)
	defer lob.Close()

	admission := signalling.New(iceServers, shutdown, logger, func(conn *peerconn.PeerConnection, callerTag string) {
		go supervisor.Run(conn, gen, lob, logger, callerTag)
	})

	srv := httpapi.New(httpapi.Config{
		Admission:     admission,
		Lobby:         lob,
		Logger:        logger,
		StaticDir:     *staticDir,
		RatePerSecond: rate.Limit(*connectRate),
		RateBurst:     *connectBurst,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		close(shutdown)
		cancel()
	}()

	go runMetrics(ctx, lob, 5*time.Second, logger)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := st.Optimize(); err != nil {
					logger.Warn("store optimize", "err", err)
				}
			}
		}
	}()

	if err := srv.Run(ctx, *addr, tlsConfig); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func newLogger(asJSON bool) *slog.Logger {
	var handler slog.Handler
	if asJSON {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	return slog.New(handler)
}

// discardLogger is used by tests that need a non-nil logger without noise.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
