package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"msgblast/internal/storage"
)

// handleDashboard aggregates the authenticated user's attempt history:
// all-time totals, per-channel breakdown, today's numbers, and the most
// recent batches.
func (s *Server) handleDashboard(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "storage disabled"})
		return
	}
	ctx := c.Request.Context()
	uid := userID(c)

	overall, err := s.store.OverallStats(ctx, uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	byType, err := s.store.StatsByChannel(ctx, uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today, err := s.store.StatsSince(ctx, uid, midnight)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	recent, err := s.store.RecentAttempts(ctx, uid, 5)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	if byType == nil {
		byType = []storage.ChannelStats{}
	}
	if today == nil {
		today = []storage.ChannelStats{}
	}
	if recent == nil {
		recent = []storage.AttemptSummary{}
	}
	c.JSON(http.StatusOK, gin.H{
		"overall": overall,
		"byType":  byType,
		"today":   today,
		"recent":  recent,
	})
}
