package muxlinkd

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.brendoncarroll.net/stdctx/logctx"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// runAdminServer starts a listener at endpoint and serves the admin HTTP
// API until ctx is cancelled.
func (d *Daemon) runAdminServer(ctx context.Context, endpoint string, pgath prometheus.Gatherer) error {
	l, err := net.Listen("tcp", endpoint)
	if err != nil {
		return err
	}
	defer l.Close()

	mux := chi.NewMux()
	// health check
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("muxlink\n"))
	})
	// prometheus metrics
	mux.Handle("/metrics", promhttp.HandlerFor(pgath, promhttp.HandlerOpts{}))
	// daemon status
	mux.HandleFunc("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		status, err := d.Status(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			logctx.Errorln(ctx, err)
		}
	})

	h2Srv := &http2.Server{}
	hSrv := http.Server{
		Handler:     h2c.NewHandler(mux, h2Srv),
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}
	go func() {
		logctx.Infof(ctx, "muxlinkd: admin API listening on %v", l.Addr())
		if err := hSrv.Serve(l); err != nil && err != http.ErrServerClosed {
			logctx.Errorf(ctx, "error serving http: %v", err)
		}
	}()
	<-ctx.Done()
	if err := hSrv.Shutdown(context.Background()); err != nil {
		return err
	}
	return ctx.Err()
}

// AdminClient calls a daemon's admin API.
type AdminClient struct {
	endpoint string
	hc       *http.Client
}

// NewAdminClient returns a client for the admin API at endpoint, a
// host:port or http URL.
func NewAdminClient(endpoint string) *AdminClient {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	return &AdminClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		hc:       http.DefaultClient,
	}
}

func (c *AdminClient) GetStatus(ctx context.Context) (*DaemonStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/status", nil)
	if err != nil {
		return nil, err
	}
	res, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("non-okay status: %v", res.Status)
	}
	ret := &DaemonStatus{}
	if err := json.NewDecoder(res.Body).Decode(ret); err != nil {
		return nil, err
	}
	return ret, nil
}
