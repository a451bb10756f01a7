package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/invitegate/invitegate/internal/store"
)

const (
	defaultLeaderboardLimit = 20
	maxLeaderboardLimit     = 100
)

// LeaderboardStore is the ranking query the handler exposes.
type LeaderboardStore interface {
	Leaderboard(ctx context.Context, limit int32) ([]store.LeaderboardRow, error)
}

// LeaderboardHandler exposes the campaign standings to operators.
type LeaderboardHandler struct {
	logger *slog.Logger
	store  LeaderboardStore
}

func NewLeaderboardHandler(log *slog.Logger, st LeaderboardStore) *LeaderboardHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LeaderboardHandler{
		logger: log.With(slog.String("handler", "leaderboard")),
		store:  st,
	}
}

func (h *LeaderboardHandler) Register(e *echo.Echo) {
	e.GET("/api/leaderboard", h.Leaderboard)
}

type leaderboardEntry struct {
	TGUserID  int64  `json:"tg_user_id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	Joins     int64  `json:"joins"`
}

func (h *LeaderboardHandler) Leaderboard(c echo.Context) error {
	limit := defaultLeaderboardLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	rows, err := h.store.Leaderboard(c.Request().Context(), int32(limit))
	if err != nil {
		h.logger.Error("leaderboard query failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "leaderboard unavailable")
	}

	entries := make([]leaderboardEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, leaderboardEntry{
			TGUserID:  row.TGUserID,
			Username:  row.Username,
			FirstName: row.FirstName,
			Joins:     row.Joins,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"leaderboard": entries,
	})
}
