package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory/coordinator"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/internal/winstory/normalizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Coordinators resolves the coordinator serving a record.
type Coordinators interface {
	Get(ctx context.Context, recordID string) (*coordinator.Coordinator, error)
}

// Config tunes the handler. MaxStories caps the displayed slice when the
// request has no limit; OpTimeout bounds a refresh independently of the
// client connection.
type Config struct {
	MaxStories int
	OpTimeout  time.Duration
}

// Handler implements the story API.
type Handler struct {
	coords Coordinators
	cfg    Config
	logger *slog.Logger
}

func New(coords Coordinators, cfg Config) *Handler {
	if cfg.MaxStories <= 0 {
		cfg.MaxStories = 3
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 15 * time.Second
	}
	return &Handler{
		coords: coords,
		cfg:    cfg,
		logger: logger.WithComponent("story-handler"),
	}
}

type storiesResponse struct {
	RecordID          string                   `json:"recordId"`
	Stories           winstory.StoryCollection `json:"stories"`
	Displayed         winstory.StoryCollection `json:"displayed"`
	HasStories        bool                     `json:"hasStories"`
	ErrorMessage      string                   `json:"errorMessage,omitempty"`
	EmptyStateMessage string                   `json:"emptyStateMessage,omitempty"`
	IsRefreshing      bool                     `json:"isRefreshing"`
	State             string                   `json:"state"`
	UpdatedAt         time.Time                `json:"updatedAt"`
}

func newStoriesResponse(v coordinator.View, limit int) storiesResponse {
	resp := storiesResponse{
		RecordID:     v.RecordID,
		Stories:      v.Stories,
		Displayed:    v.Displayed(limit),
		HasStories:   v.HasStories(),
		ErrorMessage: v.ErrorMessage,
		IsRefreshing: v.IsRefreshing,
		State:        v.State,
		UpdatedAt:    v.UpdatedAt,
	}
	if !resp.HasStories {
		resp.EmptyStateMessage = v.EmptyStateMessage()
	}
	return resp
}

// GetStories returns the current view of a record's stories.
func (h *Handler) GetStories(w http.ResponseWriter, r *http.Request) {
	limit := h.cfg.MaxStories
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, newStoriesResponse(c.View(), limit))
}

// Refresh starts a refresh cycle. A cycle already in flight is not restarted;
// the response is the same 202 with the current view.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.OpTimeout)
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Warn("refresh failed", "record_id", c.RecordID(), "status_code", status, "error", err)
		h.writeJSON(w, status, map[string]any{
			"error": err.Error(),
			"view":  newStoriesResponse(c.View(), h.cfg.MaxStories),
		})
		return
	}
	h.writeJSON(w, http.StatusAccepted, newStoriesResponse(c.View(), h.cfg.MaxStories))
}

type injectRequest struct {
	Stories []map[string]any `json:"stories"`
}

// InjectStories replaces a record's stories with the posted list, filtered
// like any delivered payload.
func (h *Handler) InjectStories(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	if err := c.Inject(normalizer.FromObjects(req.Stories)); err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, newStoriesResponse(c.View(), h.cfg.MaxStories))
}

// Normalize runs the normalizer over the request body without touching any
// record.
func (h *Handler) Normalize(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "reading body")
		return
	}
	stories, err := normalizer.Normalize(winstory.RawPayload{Value: string(body), Valid: len(body) > 0})
	if err != nil {
		var ierr *winstory.IngestError
		kind := "internal"
		if errors.As(err, &ierr) {
			kind = ierr.Kind.String()
		}
		h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{
			"kind":  kind,
			"error": err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"stories": stories,
		"count":   len(stories),
	})
}

func (h *Handler) coordinator(w http.ResponseWriter, r *http.Request) (*coordinator.Coordinator, bool) {
	c, err := h.coords.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(r.Context()).Error("resolving coordinator", "error", err)
		}
		h.writeError(w, status, err.Error())
		return nil, false
	}
	return c, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
