package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/corkline/wa-sales-backend/internal/repo"
)

// Health reports liveness plus store connectivity. The service stays "up"
// with a degraded store: replies keep flowing from the in-memory history, so
// a dead database must not fail the load balancer check.
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"store": "ok", "queue": "ok"}
	status := "ok"

	if h.DB == nil {
		checks["store"] = "unavailable"
		checks["queue"] = "unavailable"
		status = "degraded"
	} else {
		if _, err := repo.CountConversations(ctx, h.DB); err != nil {
			checks["store"] = "unavailable"
			status = "degraded"
		}
		if _, err := repo.CountJobs(ctx, h.DB); err != nil {
			checks["queue"] = "unavailable"
			status = "degraded"
		}
	}

	ok(c, http.StatusOK, gin.H{"status": status, "checks": checks})
}

// Stats aggregates operational numbers for dashboards: provider health,
// cache occupancy, per-process session state, catalog size, and stored
// totals.
func (h *Handlers) Stats(c *gin.Context) {
	providers, cacheLen := h.AI.Health()
	dedup, sentImages, senders := h.Sessions.Stats()
	categories, products, imageCount := h.Catalog.Stats()

	body := gin.H{
		"providers": providers,
		"ai_cache":  cacheLen,
		"sessions": gin.H{
			"dedup":       dedup,
			"sent_images": sentImages,
			"senders":     senders,
		},
		"catalog": gin.H{
			"categories": categories,
			"products":   products,
			"images":     imageCount,
		},
	}
	if h.Media != nil {
		body["media_handles"] = h.Media.CacheLen()
	}

	if h.DB == nil {
		body["totals_error"] = "store unavailable"
	} else if totals, err := repo.GetTotals(c.Request.Context(), h.DB); err == nil {
		body["totals"] = totals
	} else {
		body["totals_error"] = "store unavailable"
	}

	ok(c, http.StatusOK, body)
}
