package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rackwise/rackwise-core/internal/canonical"
)

// defaultHistoryLimit bounds history reads when the client omits the
// limit query parameter.
const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000

	componentCheckTimeout = 3 * time.Second
)

// handleHealth reports overall liveness plus per-component status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.components))
	healthy := true

	for name, checker := range s.components {
		ctx, cancel := context.WithTimeout(r.Context(), componentCheckTimeout)
		if err := checker.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			healthy = false
		} else {
			components[name] = "ok"
		}
		cancel()
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	body := map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	}
	if s.line != nil {
		body["pipeline"] = s.line.Status()
	}
	writeJSON(w, code, body)
}

// handleListDevices lists known devices. The history store is the
// authoritative source; without a database the list falls back to
// devices currently present in the cache.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if s.history != nil {
		devices, err := s.history.GetDevices(r.Context())
		if err != nil {
			s.logger.Error("device listing failed", "error", err)
			writeInternalError(w, "device listing failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
		return
	}

	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, key := range s.cache.Keys() {
		id, _, found := strings.Cut(key, "/")
		if found && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": ids})
}

// handleDeviceLatest returns the freshest canonical record per
// (module, kind) cell for one device, straight from the cache.
func (s *Server) handleDeviceLatest(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	prefix := deviceID + "/"

	latest := make(map[string]canonical.Record)
	for _, key := range s.cache.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if rec, ok := s.cache.Get(key); ok {
			latest[strings.TrimPrefix(key, prefix)] = rec
		}
	}

	if len(latest) == 0 {
		writeNotFound(w, "no cached records for device "+deviceID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deviceId": deviceID,
		"records":  latest,
	})
}

// handleDeviceHistory reads stored rows for one device, newest first.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history store is disabled")
		return
	}

	deviceID := chi.URLParam(r, "id")
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	entries, err := s.history.GetHistory(r.Context(), deviceID, limit)
	if err != nil {
		s.logger.Error("history read failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "history read failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deviceId": deviceID,
		"count":    len(entries),
		"history":  entries,
	})
}

// handleDeviceChanges returns the bounded change history for one state
// cell: device + module + message kind.
func (s *Server) handleDeviceChanges(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state tracking is disabled")
		return
	}

	deviceID := chi.URLParam(r, "id")
	module := r.URL.Query().Get("module")
	kind := r.URL.Query().Get("kind")
	if module == "" || kind == "" {
		writeBadRequest(w, "module and kind query parameters are required")
		return
	}
	if _, err := strconv.Atoi(module); err != nil {
		writeBadRequest(w, "module must be an integer")
		return
	}

	key := deviceID + "/" + module + "/" + kind
	changes := s.engine.History(key)

	writeJSON(w, http.StatusOK, map[string]any{
		"key":     key,
		"count":   len(changes),
		"changes": changes,
	})
}

// handleStats aggregates runtime counters from every component.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{
		"cache": s.cache.Stats(),
	}
	if s.buffer != nil {
		stats["writeBuffer"] = s.buffer.Metrics()
	}
	if s.engine != nil {
		stats["stateCells"] = s.engine.Size()
	}
	if s.line != nil {
		stats["pipeline"] = s.line.Metrics()
	}
	if s.callbacks != nil {
		delivered, failed := s.callbacks.Stats()
		stats["callbacks"] = map[string]uint64{
			"delivered": delivered,
			"failed":    failed,
		}
	}
	if s.relay != nil {
		stats["relayRules"] = len(s.relay.Rules())
	}
	if s.hub != nil {
		stats["websocketClients"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, stats)
}
