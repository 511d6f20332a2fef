package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/api"
	"github.com/muurk/lumen/internal/credstore"
	"github.com/muurk/lumen/internal/device"
	"github.com/muurk/lumen/internal/firmware"
	"github.com/muurk/lumen/internal/indicator"
)

// maxBodyBytes bounds request bodies; every command fits comfortably.
const maxBodyBytes = 4096

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.Status{Status: api.StatusError, Message: message})
}

// decodeBody decodes a JSON body into v. An empty body is an error.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("malformed JSON: %w", err)
	}
	return nil
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
}

// loopError answers a failure to reach the owner loop.
func (s *Server) loopError(w http.ResponseWriter, err error) {
	s.logger.Warn("Device loop unavailable", zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, "device busy, try again")
}

func (s *Server) handleDeviceInfo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	info, err := s.dev.Info(ctx)
	if err != nil {
		s.loopError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.DeviceInfo{
		MACAddress: info.MAC.String(),
		MDNSName:   info.MDNSName,
		DeviceName: info.DeviceName,
		Version:    info.Version,
		State:      info.State.String(),
		SSID:       info.SSID,
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	networks, err := s.dev.Scan(r.Context())
	if err != nil {
		s.logger.Error("Scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := api.ScanResponse{Networks: make([]api.Network, 0, len(networks))}
	for _, n := range networks {
		resp.Networks = append(resp.Networks, api.Network{
			SSID:       n.SSID,
			RSSI:       n.RSSI,
			Encryption: n.Encryption(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req api.ConnectRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	err := s.dev.Connect(ctx, req.SSID, req.Passphrase)
	switch {
	case errors.Is(err, credstore.ErrInvalidSSID), errors.Is(err, credstore.ErrInvalidPassphrase):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.loopError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.Status{
		Status:  api.StatusSuccess,
		Message: fmt.Sprintf("credentials saved, joining %s", req.SSID),
	})
}

func ledState(st indicator.State) api.LEDState {
	return api.LEDState{
		IsOn:       st.Power,
		Brightness: st.BrightnessPercent(),
		Color:      api.Color{R: st.Color.R, G: st.Color.G, B: st.Color.B, W: st.Color.W},
	}
}

func (s *Server) handleGetLED(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	st, err := s.dev.LED(ctx)
	if err != nil {
		s.loopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledState(st))
}

// handleSetLED applies a partial update. "off" wins over the other fields.
func (s *Server) handleSetLED(w http.ResponseWriter, r *http.Request) {
	var req api.LEDRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	change, err := device.ParseLEDRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	st, err := s.dev.SetLED(ctx, change)
	switch {
	case errors.Is(err, indicator.ErrBrightnessRange), errors.Is(err, device.ErrNoLEDChange):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.loopError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledState(st))
}

func (s *Server) handleUpdateFirmware(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("firmwareURL")
	if source == "" {
		var req api.UpdateRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		source = req.FirmwareURL
	}
	if source == "" {
		writeError(w, http.StatusBadRequest, "firmwareURL is required")
		return
	}
	if err := firmware.ValidateSource(source); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.upd.Start(s.base, source); err != nil {
		if errors.Is(err, firmware.ErrBusy) {
			writeError(w, http.StatusConflict, "an update is already in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("Firmware update started", zap.String("source", source))
	writeJSON(w, http.StatusOK, api.Status{Status: api.StatusStarted})
}

func updateStatus(st firmware.Status) api.UpdateStatus {
	return api.UpdateStatus{
		Source:       st.Source,
		Phase:        string(st.Phase),
		ExpectedSize: st.ExpectedSize,
		BytesWritten: st.BytesWritten,
		SHA256:       st.SHA256,
		Error:        st.Error,
		ErrorKind:    st.ErrorKind,
		StartedAt:    st.StartedAt,
		FinishedAt:   st.FinishedAt,
	}
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, updateStatus(s.upd.Status()))
}
