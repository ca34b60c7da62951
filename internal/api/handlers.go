// Package api wires the HTTP surface onto the domain components.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandahl/tilevault/internal/area"
	"github.com/sandahl/tilevault/internal/compress"
	"github.com/sandahl/tilevault/internal/core/model"
	"github.com/sandahl/tilevault/internal/core/observability"
	"github.com/sandahl/tilevault/internal/orchestrator"
	"github.com/sandahl/tilevault/internal/quota"
	"github.com/sandahl/tilevault/internal/resolver"
	"github.com/sandahl/tilevault/internal/store"
	"github.com/sandahl/tilevault/internal/tilemath"
)

type Handler struct {
	resolver *resolver.Resolver
	orch     *orchestrator.Orchestrator
	areas    *area.Manager
	quota    *quota.Monitor
	store    store.Interface
	logger   *slog.Logger
}

func New(res *resolver.Resolver, orch *orchestrator.Orchestrator, areas *area.Manager, q *quota.Monitor, st store.Interface, logger *slog.Logger) *Handler {
	return &Handler{
		resolver: res,
		orch:     orch,
		areas:    areas,
		quota:    q,
		store:    st,
		logger:   logger,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/tiles/{z}/{x}/{y}", h.getTile)
	r.Get("/tiles", h.getCachedTiles)

	r.Post("/downloads", h.startDownload)
	r.Get("/downloads/current", h.currentDownload)
	r.Delete("/downloads/current", h.cancelDownload)

	r.Get("/areas", h.listAreas)
	r.Get("/areas/orphans", h.getOrphans)
	r.Delete("/areas/orphans", h.deleteOrphans)
	r.Delete("/areas/{id}", h.deleteArea)

	r.Get("/quota", h.getQuota)

	r.Get("/settings/compression", h.getCompressionSettings)
	r.Put("/settings/compression", h.putCompressionSettings)
}

func (h *Handler) getTile(w http.ResponseWriter, r *http.Request) {
	t, ok := tileParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid tile coordinate")
		return
	}

	res := h.resolver.Resolve(r.Context(), t)
	if res.ETag != "" {
		if r.Header.Get("If-None-Match") == res.ETag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", res.ETag)
		w.Header().Set("Cache-Control", "max-age=86400")
	}
	w.Header().Set("Content-Type", http.DetectContentType(res.Data))
	w.Header().Set("X-Tile-Source", string(res.Source))
	_, _ = w.Write(res.Data)
}

func tileParam(r *http.Request) (tilemath.Tile, bool) {
	z, err1 := strconv.Atoi(chi.URLParam(r, "z"))
	x, err2 := strconv.Atoi(chi.URLParam(r, "x"))
	y, err3 := strconv.Atoi(chi.URLParam(r, "y"))
	if err1 != nil || err2 != nil || err3 != nil {
		return tilemath.Tile{}, false
	}
	if z < 0 || z > 30 {
		return tilemath.Tile{}, false
	}
	max := 1 << z
	if x < 0 || x >= max || y < 0 || y >= max {
		return tilemath.Tile{}, false
	}
	return tilemath.Tile{Z: z, X: x, Y: y}, true
}

func (h *Handler) getCachedTiles(w http.ResponseWriter, r *http.Request) {
	rep, err := h.areas.CachedTiles(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) startDownload(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	areaID, err := h.orch.Start(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrDownloadInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, tilemath.ErrInvalidBoundingBox):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		var ise *orchestrator.InsufficientStorageError
		if errors.As(err, &ise) {
			writeError(w, http.StatusInsufficientStorage, ise.Error())
			return
		}
		h.serverError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"areaId": areaID})
}

func (h *Handler) currentDownload(w http.ResponseWriter, r *http.Request) {
	p, ok := h.orch.Snapshot()
	if !ok {
		writeError(w, http.StatusNotFound, "no download has run")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) cancelDownload(w http.ResponseWriter, r *http.Request) {
	if !h.orch.Cancel() {
		writeError(w, http.StatusNotFound, "no download in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (h *Handler) listAreas(w http.ResponseWriter, r *http.Request) {
	all, err := h.areas.All(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if all == nil {
		all = []model.DownloadedArea{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *Handler) deleteArea(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.areas.Delete(r.Context(), id); err != nil {
		h.serverError(w, r, err)
		return
	}
	// Deleted tiles must not linger in the resolver's memory layer.
	h.resolver.Purge()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getOrphans(w http.ResponseWriter, r *http.Request) {
	rep, err := h.areas.Orphans(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) deleteOrphans(w http.ResponseWriter, r *http.Request) {
	rep, err := h.areas.DeleteOrphans(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.resolver.Purge()
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) getQuota(w http.ResponseWriter, r *http.Request) {
	snap := h.quota.Snapshot(r.Context())
	declared, err := h.areas.TotalStorageUsed(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{StorageQuota: snap, DeclaredUsage: declared})
}

// quotaResponse joins the live platform snapshot with the download-time
// size declared by the area records (the two drift; both are useful).
type quotaResponse struct {
	model.StorageQuota
	DeclaredUsage int64 `json:"declaredUsage"`
}

func (h *Handler) getCompressionSettings(w http.ResponseWriter, r *http.Request) {
	s, err := compress.LoadSettings(r.Context(), h.store)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) putCompressionSettings(w http.ResponseWriter, r *http.Request) {
	var s compress.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := compress.SaveSettings(r.Context(), h.store, s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.CacheProfile = compress.ProfileHigh
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	if h.logger != nil {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Metrics wraps handlers with request counting keyed by the chi route
// pattern, so tile coordinates do not explode label cardinality.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			observability.ObserveHTTP(r.Method, route, sw.status, time.Since(start).Seconds())
		}
		return http.HandlerFunc(fn)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
