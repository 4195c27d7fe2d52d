package controlapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldgate/gateway/internal/config"
	"github.com/fieldgate/gateway/internal/logging"
	"github.com/fieldgate/gateway/internal/polling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, config.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, config.ErrDeviceNotFound), errors.Is(err, config.ErrRegisterNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// deviceStatusView is the wire shape for status RPCs: enabled, health,
// disable_detail, success_rate, avg_response_ms, last_success_at,
// consecutive_failures. There is no separate disable_reason field; the
// reason a device is not polling is reported through health.
type deviceStatusView struct {
	DeviceID            string  `json:"device_id"`
	Enabled             bool    `json:"enabled"`
	Health              string  `json:"health"`
	DisableDetail       string  `json:"disable_detail,omitempty"`
	SuccessRate         float64 `json:"success_rate"`
	AvgResponseMs       float64 `json:"avg_response_ms"`
	LastSuccessAt       string  `json:"last_success_at,omitempty"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
}

// deviceStatusViewFrom maps the engine's internal status into the wire
// shape. A device counts as enabled while it is either polling normally or
// backing off after transient failures; AutoDisabledTimeout and
// ManualDisabled both stop polling until an operator intervenes.
func deviceStatusViewFrom(st polling.DeviceStatus) deviceStatusView {
	enabled := st.Health == polling.HealthEnabled || st.Health == polling.HealthAutoDisabledRetry
	view := deviceStatusView{
		DeviceID:            st.DeviceID,
		Enabled:             enabled,
		Health:              string(st.Health),
		DisableDetail:       st.DisableDetail,
		SuccessRate:         st.SuccessRate,
		AvgResponseMs:       st.AvgResponseMs,
		ConsecutiveFailures: st.ConsecutiveFailures,
	}
	if !st.LastSuccessAt.IsZero() {
		view.LastSuccessAt = st.LastSuccessAt.UTC().Format(time.RFC3339)
	}
	return view
}

// handleCreateDevice implements create_device(cfg).
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var cfg config.DeviceConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.CreateDevice(cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// handleUpdateDevice implements update_device(id, patch).
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	var patch config.DeviceConfig
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.UpdateDevice(id, patch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patch)
}

// handleDeleteDevice implements delete_device(id).
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	if err := s.store.DeleteDevice(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateRegister implements create_register.
func (s *Server) handleCreateRegister(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	var cfg config.RegisterConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.CreateRegister(deviceID, cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

// handleUpdateRegister implements update_register.
func (s *Server) handleUpdateRegister(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	registerID := chi.URLParam(r, "registerID")
	var patch config.RegisterConfig
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.UpdateRegister(deviceID, registerID, patch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patch)
}

// handleDeleteRegister implements delete_register.
func (s *Server) handleDeleteRegister(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	registerID := chi.URLParam(r, "registerID")
	if err := s.store.DeleteRegister(deviceID, registerID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateServerConfig implements update_server_config.
func (s *Server) handleUpdateServerConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.ServerConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.UpdateServerConfig(cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleUpdateLoggingConfig is the logging-side counterpart the teacher's
// logger.SetLevel hook exists for; not part of the spec's named RPC list
// but reachable from the same config document.
func (s *Server) handleUpdateLoggingConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.LoggingConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.UpdateLoggingConfig(cfg); err != nil {
		writeError(w, err)
		return
	}
	if cfg.Level != "" {
		logging.SetLevel(cfg.Level)
	}
	writeJSON(w, http.StatusOK, cfg)
}

type enableRequest struct {
	ClearMetrics bool `json:"clear_metrics"`
}

// handleEnableDevice implements enable_device(id, clear_metrics).
func (s *Server) handleEnableDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	var req enableRequest
	_ = decodeBody(r, &req) // empty body means clear_metrics defaults to false

	if !s.engine.EnableDevice(id, req.ClearMetrics) {
		writeError(w, config.ErrDeviceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": id, "status": "enabled"})
}

type disableRequest struct {
	ReasonDetail string `json:"reason_detail"`
}

// handleDisableDevice implements disable_device(id, reason_detail).
func (s *Server) handleDisableDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	var req disableRequest
	_ = decodeBody(r, &req)

	if !s.engine.DisableDevice(id, req.ReasonDetail) {
		writeError(w, config.ErrDeviceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": id, "status": "disabled"})
}

// handleGetDeviceStatus implements get_device_status(id).
func (s *Server) handleGetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	st, ok := s.engine.Status(id)
	if !ok {
		writeError(w, config.ErrDeviceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, deviceStatusViewFrom(st))
}

// handleListDeviceStatus implements get_all_devices_status.
func (s *Server) handleListDeviceStatus(w http.ResponseWriter, r *http.Request) {
	all := s.engine.AllStatus()
	out := make([]deviceStatusView, 0, len(all))
	for _, st := range all {
		out = append(out, deviceStatusViewFrom(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":             out,
		"mqtt_buffered_count": s.publisher.BufferedMQTTCount(),
		"mqtt_dropped_count":  s.publisher.MQTTDroppedCount(),
		"http_dropped_count":  s.publisher.HTTPDroppedCount(),
	})
}
