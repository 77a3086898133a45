package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/store"
	"github.com/couchcryptid/flood-risk-service/internal/weather"
)

// Refresher refreshes regions synchronously or in the background.
type Refresher interface {
	Refresh(ctx context.Context, r *domain.Region) weather.Outcome
	RefreshAsync(r *domain.Region, onDone func(ctx context.Context, r *domain.Region))
}

// RegionHandler serves region CRUD and on-demand refreshes.
type RegionHandler struct {
	store          store.RegionStore
	refresher      Refresher
	refreshTimeout time.Duration
	clock          clockwork.Clock
	logger         *slog.Logger
}

// NewRegionHandler creates the region API. refreshTimeout bounds
// POST /regions/{id}/refresh.
func NewRegionHandler(s store.RegionStore, r Refresher, refreshTimeout time.Duration, clock clockwork.Clock, logger *slog.Logger) *RegionHandler {
	return &RegionHandler{
		store:          s,
		refresher:      r,
		refreshTimeout: refreshTimeout,
		clock:          clock,
		logger:         logger,
	}
}

func (h *RegionHandler) routes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/refresh", h.refresh)
}

type regionRequest struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	City         string `json:"city"`
	Neighborhood string `json:"neighborhood"`
	ZipCode      string `json:"zip_code"`
}

func (req *regionRequest) validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", req.Name},
		{"state", req.State},
		{"city", req.City},
		{"neighborhood", req.Neighborhood},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return errors.New("missing required fields: " + strings.Join(missing, ", "))
	}
	return nil
}

func (req *regionRequest) applyTo(r *domain.Region) {
	r.Name = strings.TrimSpace(req.Name)
	r.State = strings.TrimSpace(req.State)
	r.City = strings.TrimSpace(req.City)
	r.Neighborhood = strings.TrimSpace(req.Neighborhood)
	r.ZipCode = strings.TrimSpace(req.ZipCode)
}

type refreshResponse struct {
	Region  *domain.Region `json:"region"`
	Outcome string         `json:"outcome"`
}

func (h *RegionHandler) list(w http.ResponseWriter, r *http.Request) {
	regions, err := h.store.List(r.Context())
	if err != nil {
		h.serverError(w, "list regions", err)
		return
	}
	if regions == nil {
		regions = []*domain.Region{}
	}
	writeJSON(w, http.StatusOK, regions)
}

func (h *RegionHandler) get(w http.ResponseWriter, r *http.Request) {
	region, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, region)
}

func (h *RegionHandler) create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRegion(w, r)
	if !ok {
		return
	}

	region := &domain.Region{}
	req.applyTo(region)
	region.ApplyDefaults(h.clock.Now())
	if err := h.store.Save(r.Context(), region); err != nil {
		h.serverError(w, "create region", err)
		return
	}

	writeJSON(w, http.StatusCreated, region)
	h.refreshInBackground(region)
}

func (h *RegionHandler) update(w http.ResponseWriter, r *http.Request) {
	region, ok := h.load(w, r)
	if !ok {
		return
	}
	req, ok := decodeRegion(w, r)
	if !ok {
		return
	}

	req.applyTo(region)
	region.ApplyDefaults(h.clock.Now())
	if err := h.store.Save(r.Context(), region); err != nil {
		h.serverError(w, "update region", err)
		return
	}

	writeJSON(w, http.StatusOK, region)
	h.refreshInBackground(region)
}

func (h *RegionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	err := h.store.Delete(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "region not found")
		return
	}
	if err != nil {
		h.serverError(w, "delete region", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RegionHandler) refresh(w http.ResponseWriter, r *http.Request) {
	region, ok := h.load(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.refreshTimeout)
	defer cancel()
	outcome := h.refresher.Refresh(ctx, region)

	err := h.store.UpdateClimate(context.WithoutCancel(r.Context()), region.ID, region.Climate())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "region not found")
		return
	}
	if err != nil {
		h.serverError(w, "save refreshed region", err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Region: region, Outcome: outcome.String()})
}

// refreshInBackground hands region to the refresher; the caller must not use
// it afterwards.
func (h *RegionHandler) refreshInBackground(region *domain.Region) {
	h.refresher.RefreshAsync(region, func(ctx context.Context, refreshed *domain.Region) {
		err := h.store.UpdateClimate(ctx, refreshed.ID, refreshed.Climate())
		if errors.Is(err, store.ErrNotFound) {
			h.logger.Info("region deleted before refresh completed", "region_id", refreshed.ID)
			return
		}
		if err != nil {
			h.logger.Error("save refreshed region failed", "region_id", refreshed.ID, "error", err)
		}
	})
}

func (h *RegionHandler) load(w http.ResponseWriter, r *http.Request) (*domain.Region, bool) {
	id, ok := parseID(w, r)
	if !ok {
		return nil, false
	}
	region, err := h.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "region not found")
		return nil, false
	}
	if err != nil {
		h.serverError(w, "get region", err)
		return nil, false
	}
	return region, true
}

func (h *RegionHandler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid region id")
		return 0, false
	}
	return id, true
}

func decodeRegion(w http.ResponseWriter, r *http.Request) (regionRequest, bool) {
	var req regionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}
