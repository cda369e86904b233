package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resolve"
	"github.com/sells-group/outreach-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for on-demand harvesting",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initResolver(ctx, resolverOpts{})
		if err != nil {
			return err
		}
		defer env.Close()

		mux := buildMux(ctx, env.Resolver, env.Store)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildMux wires the server routes. The resolver and store may be nil; the
// handlers degrade rather than panic, which also keeps them testable without
// a live backend.
func buildMux(ctx context.Context, res *resolve.Resolver, st store.Store) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if st != nil {
			if err := st.Ping(r.Context()); err != nil {
				zap.L().Warn("health: store ping failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "degraded"})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /webhook/harvest", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		if req.URL == "" {
			http.Error(w, `{"error":"url is required"}`, http.StatusBadRequest)
			return
		}

		// Resolve asynchronously; the result lands in the cache, so a later
		// harvest or GET picks it up without refetching.
		go func() {
			if res == nil {
				return
			}
			resolution, err := res.Resolve(ctx, req.URL)
			if err != nil {
				zap.L().Error("webhook resolution failed",
					zap.String("url", req.URL),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("webhook resolution complete",
				zap.String("url", req.URL),
				zap.Int("emails", len(resolution.Emails)),
				zap.String("tier", string(resolution.Tier)),
			)
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "accepted",
			"url":    req.URL,
		})
	})

	mux.HandleFunc("GET /runs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if st == nil {
			fmt.Fprint(w, "[]")
			return
		}

		runs, err := st.ListRuns(r.Context(), 0)
		if err != nil {
			zap.L().Error("list runs failed", zap.Error(err))
			http.Error(w, `{"error":"list runs failed"}`, http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []model.HarvestRun{}
		}
		json.NewEncoder(w).Encode(runs)
	})

	return mux
}
