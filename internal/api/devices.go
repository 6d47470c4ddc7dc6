package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/robot"
)

// DeviceView is a device with its latest decoded telemetry.
type DeviceView struct {
	Device device.Identity `json:"device"`
	Name   string          `json:"name,omitempty"`
	Online bool            `json:"online"`
	Fields map[string]any  `json:"fields,omitempty"`
}

// deviceViews lists every device with its cached telemetry.
func (s *Server) deviceViews() []DeviceView {
	infos := s.robot.Devices()
	views := make([]DeviceView, 0, len(infos))
	for _, info := range infos {
		views = append(views, s.deviceView(info))
	}
	return views
}

func (s *Server) deviceView(info robot.Info) DeviceView {
	view := DeviceView{Device: info.Device, Name: info.Name}
	if sample, ok := s.robot.Latest(info.Device); ok {
		view.Online = true
		view.Fields = sample.Fields
	}
	return view
}

// handleListDevices returns every device with its latest telemetry.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	views := s.deviceViews()
	respond(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
		"mode":    s.robot.Core().Mode(),
	})
}

// parseDevice reads the {kind}/{id} path parameters. It writes the error
// response and returns false when they do not name a built device.
func (s *Server) parseDevice(w http.ResponseWriter, r *http.Request) (device.Identity, bool) {
	dev, err := device.ParseIdentityParts(chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, r, err.Error())
		return device.Identity{}, false
	}
	if !s.robot.Has(dev) {
		notFound(w, r, "device not found: "+dev.String())
		return device.Identity{}, false
	}
	return dev, true
}

// handleGetDevice returns one device with its latest telemetry.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.parseDevice(w, r)
	if !ok {
		return
	}
	for _, info := range s.robot.Devices() {
		if info.Device == dev {
			respond(w, http.StatusOK, s.deviceView(info))
			return
		}
	}
	notFound(w, r, "device not found: "+dev.String())
}

// handleDeviceCommand applies a set-point request. The response is 202:
// the command is queued for the host's next tick, not yet applied.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.parseDevice(w, r)
	if !ok {
		return
	}

	var req robot.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid JSON body")
		return
	}
	if req.Action == "" {
		badRequest(w, r, "action is required")
		return
	}

	if err := s.robot.Apply(r.Context(), dev, req); err != nil {
		if status, _ := classify(err); status == http.StatusInternalServerError {
			s.logger.Error("device command failed", "device", dev.String(), "error", err)
		}
		respondErr(w, r, err, "command failed")
		return
	}

	respond(w, http.StatusAccepted, map[string]any{
		"device": dev,
		"action": req.Action,
		"status": "queued",
	})
}
