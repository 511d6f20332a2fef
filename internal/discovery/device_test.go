package discovery

import "testing"

func TestDevice_String(t *testing.T) {
	device := &Device{
		ID:       "12abcd",
		Hostname: "lumen-12abcd.local.",
		IP:       "192.168.4.16",
		Port:     80,
	}

	expected := "Lumen 12abcd (lumen-12abcd.local.) at 192.168.4.16:80"
	if device.String() != expected {
		t.Errorf("Device.String() = %v, want %v", device.String(), expected)
	}
}

func TestDevice_BaseURL(t *testing.T) {
	tests := []struct {
		name     string
		device   *Device
		expected string
	}{
		{"standard port", &Device{IP: "192.168.4.16", Port: 80}, "http://192.168.4.16:80"},
		{"custom port", &Device{IP: "10.0.0.5", Port: 8080}, "http://10.0.0.5:8080"},
		{"IPv6", &Device{IP: "fe80::1", Port: 80}, "http://[fe80::1]:80"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.device.BaseURL(); got != tt.expected {
				t.Errorf("Device.BaseURL() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDevice_GetMetadata(t *testing.T) {
	device := &Device{Metadata: map[string]string{"fw": "1.2.0", "path": "/"}}

	if got := device.Firmware(); got != "1.2.0" {
		t.Errorf("Firmware() = %q, want 1.2.0", got)
	}
	if got := device.GetMetadata("missing"); got != "" {
		t.Errorf("GetMetadata(missing) = %q, want empty", got)
	}
	if got := (&Device{}).GetMetadata("fw"); got != "" {
		t.Errorf("GetMetadata() with nil map = %q, want empty", got)
	}
}
