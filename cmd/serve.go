package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brookslogan/nowcast-template/internal/epiweek"
	"github.com/brookslogan/nowcast-template/internal/monitoring"
	"github.com/brookslogan/nowcast-template/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the readings API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(st),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		lookback := 24
		if raw := req.URL.Query().Get("lookback_hours"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid lookback_hours"})
				return
			}
			lookback = n
		}
		snap, err := monitoring.NewCollector(st).Collect(req.Context(), lookback)
		if err != nil {
			zap.L().Error("collect metrics failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Get("/readings", func(w http.ResponseWriter, req *http.Request) {
		filter, err := readingFilter(req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		readings, err := st.ListReadings(req.Context(), filter)
		if err != nil {
			zap.L().Error("list readings failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		if readings == nil {
			readings = []store.Reading{}
		}
		writeJSON(w, http.StatusOK, readings)
	})

	return r
}

func readingFilter(req *http.Request) (store.ReadingFilter, error) {
	q := req.URL.Query()
	filter := store.ReadingFilter{
		Target:   q.Get("target"),
		Name:     q.Get("name"),
		Location: q.Get("location"),
	}
	for param, dst := range map[string]*epiweek.Week{
		"from": &filter.From,
		"to":   &filter.To,
	} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return filter, eris.Errorf("invalid %s: %q", param, raw)
		}
		w := epiweek.Week(n)
		if err := w.Check(); err != nil {
			return filter, eris.Wrapf(err, "invalid %s", param)
		}
		*dst = w
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, eris.Errorf("invalid limit: %q", raw)
		}
		filter.Limit = n
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)
}
