package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/campusvoice/internal/capture"
)

type devicesResponse struct {
	Inputs            []capture.Device `json:"inputs"`
	Outputs           []capture.Device `json:"outputs"`
	SelectedInput     string           `json:"selected_input"`
	SelectedOutput    string           `json:"selected_output"`
	PermissionGranted bool             `json:"permission_granted"`
}

func (s *Server) devicesPayload() devicesResponse {
	resp := devicesResponse{
		Inputs:            s.devices.Inputs(),
		Outputs:           s.devices.Outputs(),
		SelectedInput:     s.devices.SelectedInput(),
		SelectedOutput:    s.devices.SelectedOutput(),
		PermissionGranted: s.devices.PermissionGranted(),
	}
	if resp.Inputs == nil {
		resp.Inputs = []capture.Device{}
	}
	if resp.Outputs == nil {
		resp.Outputs = []capture.Device{}
	}
	return resp
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	if s.devices == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "device enumeration not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.devicesPayload())
}

func (s *Server) handleRefreshDevices(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "device enumeration not configured")
		return
	}
	if _, _, err := s.devices.Refresh(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "refresh_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.devicesPayload())
}

type selectDevicesRequest struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

func (s *Server) handleSelectDevices(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "device enumeration not configured")
		return
	}
	var req selectDevicesRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if id := strings.TrimSpace(req.Input); id != "" {
		if err := s.devices.SelectInput(id); err != nil {
			respondDeviceError(w, err)
			return
		}
	}
	if id := strings.TrimSpace(req.Output); id != "" {
		if err := s.devices.SelectOutput(id); err != nil {
			respondDeviceError(w, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, s.devicesPayload())
}

func respondDeviceError(w http.ResponseWriter, err error) {
	if errors.Is(err, capture.ErrUnknownDevice) {
		respondError(w, http.StatusNotFound, "unknown_device", err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "device_error", err.Error())
}
