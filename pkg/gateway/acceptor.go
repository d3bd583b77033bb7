package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/xiaozhi-go/gateway/pkg/config"
	"github.com/xiaozhi-go/gateway/pkg/logging"
)

// shutdownDrainBudget is the grace period Serve gives in-flight connections
// to finish after ctx is canceled, before forcing the listener closed
// (spec.md §4.8 "Lifecycle").
const shutdownDrainBudget = 3 * time.Second

// Acceptor is the Server Acceptor (C9): a WebSocket listener on spec.md §6's
// /xiaozhi/v1/ path that spawns one Connection orchestrator per upgraded
// socket, generalized from the teacher's single hard-coded CLI session
// (cmd/agent/main.go) to a many-connection server.
type Acceptor struct {
	cfg       *config.Config
	providers Providers
	logger    logging.Logger
}

func NewAcceptor(cfg *config.Config, providers Providers, logger logging.Logger) *Acceptor {
	if logger == nil {
		logger = &logging.NoOpLogger{}
	}
	return &Acceptor{cfg: cfg, providers: providers, logger: logger}
}

// Serve listens until ctx is canceled (by the caller on SIGINT/SIGTERM),
// then gives in-flight connections shutdownDrainBudget to finish before
// returning.
func (a *Acceptor) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/xiaozhi/v1/", a.serveConn)

	srv := &http.Server{
		Addr:    a.cfg.Snapshot().ListenAddr,
		Handler: mux,
		// Deriving every request's context from ctx means canceling ctx
		// cancels every in-flight Connection.Run's context too, which is
		// what lets Shutdown's drain budget actually bound the wait below
		// rather than blocking on handlers that never observe cancellation.
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		a.logger.Info("gateway: shutting down, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainBudget)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway: shutdown: %w", err)
		}
		return nil
	}
}

func (a *Acceptor) serveConn(w http.ResponseWriter, r *http.Request) {
	deviceID := headerOrQuery(r, "Device-Id", "device-id")
	clientID := headerOrQuery(r, "Client-Id", "client-id")
	realIP := r.Header.Get("X-Real-IP")
	if realIP == "" {
		realIP = r.RemoteAddr
	}

	snapshot := a.cfg.Snapshot()
	if err := Authenticate(snapshot.Auth, r.Header.Get("Authorization"), deviceID); err != nil {
		a.logger.Warn("gateway: rejecting connection", "error", err, "device_id", deviceID, "remote", realIP)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if deviceID == "" {
		http.Error(w, "missing device-id", http.StatusBadRequest)
		return
	}

	// ?from=mqtt_gateway selects the 16-byte MQTT-gateway audio header
	// variant (spec.md §6); device-id/client-id query params are the
	// fallback for clients that can't set custom headers during the
	// WebSocket handshake.
	useHeader := r.URL.Query().Get("from") == "mqtt_gateway"

	transport, err := AcceptTransport(w, r, nil)
	if err != nil {
		a.logger.Warn("gateway: websocket upgrade failed", "error", err, "device_id", deviceID)
		return
	}

	conn, err := New(deviceID, clientID, realIP, snapshot, a.providers, transport, a.logger, useHeader)
	if err != nil {
		a.logger.Error("gateway: constructing connection", "error", err, "device_id", deviceID)
		transport.Close("internal error")
		return
	}

	a.logger.Info("gateway: connection opened", "device_id", deviceID, "client_id", clientID, "remote", realIP)
	if err := conn.Run(r.Context()); err != nil {
		a.logger.Info("gateway: connection closed", "device_id", deviceID, "error", err)
		return
	}
	a.logger.Info("gateway: connection closed", "device_id", deviceID)
}

func headerOrQuery(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}
