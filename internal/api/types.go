// Package api defines the JSON bodies of the fixture control surface.
package api

import "time"

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusStarted = "started"
)

// LED power values for LEDRequest.State.
const (
	StateOn  = "on"
	StateOff = "off"
)

// Status is the generic response to a command.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// DeviceInfo is the body of GET /device_info.
type DeviceInfo struct {
	MACAddress string `json:"macAddress"`
	MDNSName   string `json:"mdnsName"`
	DeviceName string `json:"deviceName"`
	Version    string `json:"version"`
	State      string `json:"state"`
	SSID       string `json:"ssid,omitempty"`
}

// Network is one scan result.
type Network struct {
	SSID       string `json:"ssid"`
	RSSI       int    `json:"rssi"`
	Encryption string `json:"encryption"`
}

// ScanResponse is the body of GET /scan.
type ScanResponse struct {
	Networks []Network `json:"networks"`
}

// ConnectRequest is the body of POST /connect.
type ConnectRequest struct {
	SSID       string `json:"ssid"`
	Passphrase string `json:"passphrase"`
}

// Color is an RGBW value, each channel 0-255.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	W uint8 `json:"w"`
}

// LEDState is the body of GET /led.
type LEDState struct {
	IsOn       bool  `json:"isOn"`
	Brightness uint8 `json:"brightness"`
	Color      Color `json:"color"`
}

// LEDRequest is the body of POST /led. Every field is optional but at
// least one must be present.
type LEDRequest struct {
	State      *string `json:"state,omitempty"`
	Brightness *int    `json:"brightness,omitempty"`
	Color      *Color  `json:"color,omitempty"`
}

// UpdateRequest is the body of POST /update_firmware.
type UpdateRequest struct {
	FirmwareURL string `json:"firmwareURL"`
}

// UpdateStatus is the body of GET /update_status.
type UpdateStatus struct {
	Source       string    `json:"source,omitempty"`
	Phase        string    `json:"phase"`
	ExpectedSize uint32    `json:"expected_size"`
	BytesWritten uint32    `json:"bytes_written"`
	SHA256       string    `json:"sha256,omitempty"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the session reached a terminal phase.
func (s UpdateStatus) Finished() bool {
	return s.Phase == "done" || s.Phase == "failed"
}
