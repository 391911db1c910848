package api

import (
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/mempool-signal-engine/internal/mempoolstate"
	"github.com/rawblock/mempool-signal-engine/internal/tagindex"
	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

// SignalStore is the query surface the API needs against the signal
// store. Implemented by internal/signalstore.Store.
type SignalStore interface {
	RecentSignals(ctx context.Context, limit int) ([]models.SignalRecord, error)
	TopSignals(ctx context.Context, threshold float64, limit int) ([]models.SignalRecord, error)
	SignalsInRange(ctx context.Context, from, to time.Time) ([]models.SignalRecord, error)
	CountSignals(ctx context.Context) (int64, error)
}

// APIHandler holds the dependencies every route needs.
type APIHandler struct {
	store SignalStore
	state *mempoolstate.State
	tags  *tagindex.Index
	wsHub *Hub
}

// SetupRouter builds the Gin engine serving the engine's public and
// bearer-protected endpoints.
func SetupRouter(store SignalStore, state *mempoolstate.State, tags *tagindex.Index, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://rawblock.net,https://www.rawblock.net
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	h := &APIHandler{store: store, state: state, tags: tags, wsHub: wsHub}

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", h.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
		pub.GET("/signals/recent", h.handleRecentSignals)
		pub.GET("/signals/top", h.handleTopSignals)
		pub.GET("/signals/range", h.handleSignalsRange)
		pub.GET("/signals/count", h.handleSignalsCount)
		pub.GET("/mempool/stats", h.handleMempoolStats)
	}

	// ── Protected endpoints (require bearer token if API_AUTH_TOKEN set) ──
	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	auth.Use(NewRateLimiter(30, 5).Middleware())
	{
		auth.POST("/tags/import", h.handleTagsImport)
	}

	return r
}

// handleHealth returns engine status for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"tagsKnown":  h.tags.Len(),
		"clusterTags": h.tags.ClusterTagsDiscovered(),
	})
}

func (h *APIHandler) handleRecentSignals(c *gin.Context) {
	limit := parseLimit(c, "limit", 50, 500)
	recs, err := h.store.RecentSignals(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": recs, "count": len(recs)})
}

func (h *APIHandler) handleTopSignals(c *gin.Context) {
	limit := parseLimit(c, "limit", 50, 500)
	minScore := 0.0
	if v := c.Query("min_score"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			minScore = parsed
		}
	}
	recs, err := h.store.TopSignals(c.Request.Context(), minScore, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": recs, "count": len(recs)})
}

func (h *APIHandler) handleSignalsRange(c *gin.Context) {
	from, err := parseUnixSeconds(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'from' timestamp"})
		return
	}
	to, err := parseUnixSeconds(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'to' timestamp"})
		return
	}
	recs, err := h.store.SignalsInRange(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": recs, "count": len(recs)})
}

func (h *APIHandler) handleSignalsCount(c *gin.Context) {
	n, err := h.store.CountSignals(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *APIHandler) handleMempoolStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pendingCount": h.state.PendingCount(),
		"totalVsize":   h.state.TotalVsize(),
		"totalFees":    h.state.TotalFees(),
		"feeHistogram": h.state.FeeHistogram(),
	})
}

// handleTagsImport accepts a CSV upload of
// address,entity,entity_type,confidence,source rows and upserts each
// into the tag index, skipping malformed rows rather than failing the
// whole import.
func (h *APIHandler) handleTagsImport(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'file' form field"})
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	imported, skipped := 0, 0
	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		if first {
			first = false
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "address") {
				continue
			}
		}
		if len(row) < 4 {
			skipped++
			continue
		}

		confidence, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if err != nil {
			confidence = 0.5
		}
		source := "csv_import"
		if len(row) >= 5 && strings.TrimSpace(row[4]) != "" {
			source = strings.TrimSpace(row[4])
		}

		tag := models.AddressTag{
			Address:    strings.TrimSpace(row[0]),
			Entity:     strings.TrimSpace(row[1]),
			EntityType: strings.TrimSpace(row[2]),
			Confidence: confidence,
			Source:     source,
			UpdatedAt:  time.Now(),
		}
		if tag.Address == "" {
			skipped++
			continue
		}
		if _, err := h.tags.Upsert(tag); err != nil {
			skipped++
			continue
		}
		imported++
	}

	c.JSON(http.StatusOK, gin.H{"imported": imported, "skipped": skipped})
}

func parseLimit(c *gin.Context, param string, def, max int) int {
	v := c.Query(param)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func parseUnixSeconds(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
