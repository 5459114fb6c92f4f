package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"dhruv/internal/platform/redis"
	"dhruv/pkg/platform/httputil"
)

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// healthHandler reports each configured dependency. Unconfigured ones are
// listed as disabled and do not affect the overall status.
func healthHandler(db *sql.DB, redisClient *redis.Client, kafkaClient *kgo.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Dependencies: map[string]string{}}
		check := func(name string, enabled bool, ping func(context.Context) error) {
			if !enabled {
				resp.Dependencies[name] = "disabled"
				return
			}
			if err := ping(ctx); err != nil {
				resp.Dependencies[name] = "unhealthy: " + err.Error()
				resp.Status = "degraded"
				return
			}
			resp.Dependencies[name] = "ok"
		}
		check("postgres", db != nil, func(ctx context.Context) error { return db.PingContext(ctx) })
		check("redis", redisClient != nil, func(ctx context.Context) error { return redisClient.Health(ctx) })
		check("kafka", kafkaClient != nil, func(ctx context.Context) error { return kafkaClient.Ping(ctx) })

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	}
}
