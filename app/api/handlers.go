package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lysyi3m/rss-intake/app/database"
	"github.com/lysyi3m/rss-intake/app/feed"
	"github.com/lysyi3m/rss-intake/app/ingest"
)

const (
	defaultItemLimit = 50
	maxItemLimit     = 500
)

// NewHandler builds the HTTP handlers. cache may be nil when Redis is not configured.
func NewHandler(service IngestService, items ItemReader, feeds FeedCounter, cache CacheStatus, adapters int, version string) *Handler {
	return &Handler{
		service:  service,
		items:    items,
		feeds:    feeds,
		cache:    cache,
		adapters: adapters,
		version:  version,
	}
}

// feedIDParam reads the :id path parameter. Feed ids are UUIDs, so anything
// else cannot name a feed and is answered with 404.
func feedIDParam(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return "", false
	}
	return id.String(), true
}

func (h *Handler) HealthCheck(c *gin.Context) {
	health := map[string]interface{}{
		"status":    "ok",
		"version":   h.version,
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"adapters":  h.adapters,
	}

	if feedCount, err := h.feeds.GetFeedCount(c.Request.Context()); err == nil {
		health["feeds"] = feedCount
	} else {
		slog.Error("Database error", "operation", "get_feed_count", "error", err)
		health["status"] = "degraded"
	}

	if h.cache != nil {
		health["cache"] = h.cache.Health(c.Request.Context())
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) AddFeed(c *gin.Context) {
	userID := c.Param("user")

	var req addFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body must contain a feed url"})
		return
	}

	f, err := h.service.AddFeed(c.Request.Context(), userID, req.URL)
	if err != nil {
		respondError(c, "add_feed", err)
		return
	}

	c.JSON(http.StatusCreated, feedResponse(f))
}

func (h *Handler) ListUserFeeds(c *gin.Context) {
	userID := c.Param("user")

	statuses, err := h.service.GetUserFeeds(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "get_user_feeds", err)
		return
	}

	feeds := make([]map[string]interface{}, 0, len(statuses))
	for i := range statuses {
		info := feedResponse(&statuses[i].Feed)
		if statuses[i].Health != nil {
			info["health"] = healthResponse(statuses[i].Health)
		}
		feeds = append(feeds, info)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"feeds": feeds,
		"total": len(feeds),
	})
}

func (h *Handler) UpdateFeed(c *gin.Context) {
	userID := c.Param("user")
	feedID, ok := feedIDParam(c)
	if !ok {
		return
	}

	var req updateFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	f, err := h.service.UpdateFeedConfig(c.Request.Context(), userID, feedID, database.FeedConfigUpdate{
		IsActive:             req.IsActive,
		FetchIntervalMinutes: req.FetchIntervalMinutes,
		Title:                req.Title,
	})
	if err != nil {
		respondError(c, "update_feed_config", err)
		return
	}

	c.JSON(http.StatusOK, feedResponse(f))
}

func (h *Handler) DeleteFeed(c *gin.Context) {
	userID := c.Param("user")
	feedID, ok := feedIDParam(c)
	if !ok {
		return
	}

	if err := h.service.DeleteFeed(c.Request.Context(), userID, feedID); err != nil {
		respondError(c, "delete_feed", err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) GetFeedItems(c *gin.Context) {
	feedID, ok := feedIDParam(c)
	if !ok {
		return
	}

	limit := defaultItemLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxItemLimit)
	}

	items, err := h.items.GetItems(c.Request.Context(), feedID, limit)
	if err != nil {
		respondError(c, "get_items", err)
		return
	}

	result := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		result = append(result, itemResponse(item))
	}

	response := map[string]interface{}{
		"feed_id": feedID,
		"items":   result,
	}
	if total, err := h.items.GetItemCount(c.Request.Context(), feedID); err == nil {
		response["total"] = total
	}

	c.JSON(http.StatusOK, response)
}

func (h *Handler) UpdateFeeds(c *gin.Context) {
	report, err := h.service.UpdateFeeds(c.Request.Context())
	if err != nil {
		respondError(c, "update_feeds", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *Handler) PollFeed(c *gin.Context) {
	feedID, ok := feedIDParam(c)
	if !ok {
		return
	}

	result := h.service.PollFeed(c.Request.Context(), feedID)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) RevalidateFeed(c *gin.Context) {
	feedID, ok := feedIDParam(c)
	if !ok {
		return
	}

	health, err := h.service.Revalidate(c.Request.Context(), feedID)
	if err != nil {
		respondError(c, "revalidate_feed", err)
		return
	}

	c.JSON(http.StatusOK, healthResponse(health))
}

func (h *Handler) GetFeedHealth(c *gin.Context) {
	feedID, ok := feedIDParam(c)
	if !ok {
		return
	}

	health, err := h.service.GetFeedHealth(c.Request.Context(), feedID)
	if err != nil {
		respondError(c, "get_feed_health", err)
		return
	}
	if health == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No health record for feed"})
		return
	}

	c.JSON(http.StatusOK, healthResponse(health))
}

func (h *Handler) ListSpecialHandling(c *gin.Context) {
	records, err := h.service.ListSpecialHandling(c.Request.Context())
	if err != nil {
		respondError(c, "list_special_handling", err)
		return
	}
	c.JSON(http.StatusOK, healthListResponse(records))
}

func (h *Handler) ListPermanentlyInvalid(c *gin.Context) {
	records, err := h.service.ListPermanentlyInvalid(c.Request.Context())
	if err != nil {
		respondError(c, "list_permanently_invalid", err)
		return
	}
	c.JSON(http.StatusOK, healthListResponse(records))
}

// respondError maps pipeline errors onto status codes. Validation failures
// are the caller's fault; other categorized failures describe the remote feed.
func respondError(c *gin.Context, operation string, err error) {
	if errors.Is(err, ingest.ErrFeedNotFound) || errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	var fe *feed.Error
	if errors.As(err, &fe) {
		status := http.StatusUnprocessableEntity
		if fe.Category == feed.CategoryValidation {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error":    fe.Message,
			"category": fe.Category,
			"details":  err.Error(),
		})
		return
	}

	slog.Error("Database error", "operation", operation, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func feedResponse(f *database.Feed) map[string]interface{} {
	return map[string]interface{}{
		"id":                     f.ID,
		"user_id":                f.UserID,
		"url":                    f.URL,
		"title":                  f.Title,
		"description":            f.Description,
		"site_url":               f.SiteURL,
		"is_active":              f.IsActive,
		"fetch_interval_minutes": f.FetchIntervalMinutes,
		"last_fetched_at":        f.LastFetchedAt,
		"created_at":             f.CreatedAt,
		"updated_at":             f.UpdatedAt,
	}
}

func healthResponse(h *database.Health) map[string]interface{} {
	return map[string]interface{}{
		"feed_id":                   h.FeedID,
		"last_check_at":             h.LastCheckAt,
		"consecutive_failures":      h.ConsecutiveFailures,
		"last_error_category":       h.LastErrorCategory,
		"last_error_detail":         h.LastErrorDetail,
		"is_permanently_invalid":    h.IsPermanentlyInvalid,
		"requires_special_handling": h.RequiresSpecialHandling,
		"special_handler_type":      h.SpecialHandlerType,
		"updated_at":                h.UpdatedAt,
	}
}

func healthListResponse(records []database.Health) map[string]interface{} {
	result := make([]map[string]interface{}, 0, len(records))
	for i := range records {
		result = append(result, healthResponse(&records[i]))
	}
	return map[string]interface{}{
		"feeds": result,
		"total": len(result),
	}
}

func itemResponse(item database.Item) map[string]interface{} {
	response := map[string]interface{}{
		"id":           item.ID,
		"guid":         item.GUID,
		"title":        item.Title,
		"author":       item.Author,
		"content":      item.Content,
		"url":          item.URL,
		"published_at": item.PublishedAt,
		"crawled_at":   item.CrawledAt,
	}
	if item.SourceType != "" {
		response["source_type"] = item.SourceType
		response["source_id"] = item.SourceID
	}
	if len(item.SourceMetadata) > 0 {
		response["source_metadata"] = item.SourceMetadata
	}
	return response
}
