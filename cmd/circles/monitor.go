package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rcron "github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/circle-kernel/internal/capacity"
	"github.com/circle-kernel/internal/circles"
	"github.com/circle-kernel/internal/jsonx"
	"github.com/circle-kernel/internal/kernel"
)

var (
	monitorSchedule string
	monitorHTTP     string
	monitorUsers    []string
	monitorOrigins  []string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Periodically check circle capacity and serve reports",
	Long: `Run the capacity and rebalance check on a cron schedule (seconds field
first) for every --users entry, and optionally serve /metrics and read-only
JSON reports over HTTP.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&monitorSchedule, "schedule", "0 0 * * * *", "Cron expression with seconds")
	monitorCmd.Flags().StringVar(&monitorHTTP, "http", getEnv("CIRCLES_HTTP_ADDR", ""), "Listen address for /metrics and reports (empty disables)")
	monitorCmd.Flags().StringSliceVar(&monitorUsers, "users", nil, "Users to check (defaults to --user)")
	monitorCmd.Flags().StringSliceVar(&monitorOrigins, "allowed-origins", []string{"http://localhost:5173"}, "CORS origins for the report API")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	users := monitorUsers
	if len(users) == 0 && userID != "" {
		users = []string{userID}
	}
	if len(users) == 0 {
		return fmt.Errorf("--user or --users is required")
	}

	logger := newLogger().Named("monitor")
	defer logger.Sync()

	ctx, cancel := newContext()
	defer cancel()

	k, err := openKernel(ctx, logger)
	if err != nil {
		return err
	}
	defer k.Close()

	c := rcron.New(rcron.WithSeconds())
	if _, err := c.AddFunc(monitorSchedule, func() {
		checkCapacity(ctx, k, users, logger)
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", monitorSchedule, err)
	}
	c.Start()
	logger.Info("Monitor started", zap.String("schedule", monitorSchedule), zap.Strings("users", users))

	// First check runs immediately.
	checkCapacity(ctx, k, users, logger)

	var srv *http.Server
	if monitorHTTP != "" {
		corsObj := handlers.CORS(
			handlers.AllowedOrigins(monitorOrigins),
			handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)
		srv = &http.Server{
			Addr:         monitorHTTP,
			Handler:      handlers.RecoveryHandler()(corsObj(newRouter(k, logger))),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			logger.Info("HTTP server starting", zap.String("addr", monitorHTTP))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", zap.Error(err))
				cancel()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down monitor...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if srv != nil {
		srv.Shutdown(shutdownCtx)
	}
	select {
	case <-c.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("Stop timeout waiting for running checks")
	}
	return nil
}

// checkCapacity logs every over-capacity circle and rebalance suggestion.
func checkCapacity(ctx context.Context, k *kernel.Kernel, users []string, logger *zap.Logger) {
	for _, u := range users {
		reports, err := k.CapacityReport(ctx, u)
		if err != nil {
			logger.Error("Capacity check failed", zap.String("user_id", u), zap.Error(err))
			continue
		}
		over := 0
		for _, r := range reports {
			if r.Status == capacity.StatusOver {
				over++
			}
		}

		moves, err := k.SuggestRebalancing(ctx, u)
		if err != nil {
			logger.Error("Rebalance check failed", zap.String("user_id", u), zap.Error(err))
			continue
		}
		for _, m := range moves {
			logger.Warn("Rebalance suggested",
				zap.String("user_id", u),
				zap.String("from", string(m.From)),
				zap.String("to", string(m.To)),
				zap.Int("count", m.Count))
		}
		logger.Info("Capacity checked",
			zap.String("user_id", u),
			zap.Int("over_capacity", over),
			zap.Int("rebalance_suggestions", len(moves)))
	}
}

func newRouter(k *kernel.Kernel, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": k.Stats()})
	}).Methods("GET")

	api := r.PathPrefix("/api/users/{user}").Subrouter()
	api.HandleFunc("/distribution", func(w http.ResponseWriter, r *http.Request) {
		d, err := k.Distribution(r.Context(), mux.Vars(r)["user"])
		respond(w, logger, d, err)
	}).Methods("GET")
	api.HandleFunc("/capacity", func(w http.ResponseWriter, r *http.Request) {
		reports, err := k.CapacityReport(r.Context(), mux.Vars(r)["user"])
		respond(w, logger, reports, err)
	}).Methods("GET")
	api.HandleFunc("/capacity/{circle}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		circle, err := circles.ParseCircle(vars["circle"])
		if err != nil {
			respond(w, logger, nil, err)
			return
		}
		report, err := k.ValidateCircleCapacity(r.Context(), vars["user"], circle)
		respond(w, logger, report, err)
	}).Methods("GET")
	api.HandleFunc("/rebalance", func(w http.ResponseWriter, r *http.Request) {
		moves, err := k.SuggestRebalancing(r.Context(), mux.Vars(r)["user"])
		respond(w, logger, moves, err)
	}).Methods("GET")
	api.HandleFunc("/contacts/{contact}/history", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		records, err := k.History(r.Context(), vars["user"], vars["contact"])
		respond(w, logger, records, err)
	}).Methods("GET")
	return r
}

func respond(w http.ResponseWriter, logger *zap.Logger, v any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case errors.Is(err, circles.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, circles.ErrInvalidCircle):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		logger.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := jsonx.Marshal(v)
	if err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
