package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/lumen/internal/api"
	"github.com/muurk/lumen/internal/credstore"
	"github.com/muurk/lumen/internal/device"
	"github.com/muurk/lumen/internal/firmware"
	"github.com/muurk/lumen/internal/indicator"
	"github.com/muurk/lumen/internal/metrics"
	"github.com/muurk/lumen/internal/version"
	"github.com/muurk/lumen/internal/wifi"
)

const testVersion = "1.4.0"

type recordingRestarter struct {
	mu    sync.Mutex
	count int
}

func (r *recordingRestarter) Restart(string) {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
}

func (r *recordingRestarter) restarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

type testEnv struct {
	srv     *httptest.Server
	dev     *device.Device
	radio   *wifi.SimRadio
	store   *credstore.Store
	restart *recordingRestarter
}

type envOptions struct {
	networks       []wifi.SimNetwork
	saved          *credstore.Credentials
	associateDelay time.Duration
}

func newEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	env := &testEnv{
		radio:   wifi.NewSimRadio(net.HardwareAddr{0x24, 0x0a, 0xc4, 0x12, 0xab, 0xcd}, opts.networks...),
		restart: &recordingRestarter{},
	}
	env.radio.AssociateDelay = opts.associateDelay
	env.store = credstore.New(credstore.NewMemoryRegion(credstore.DefaultRegionSize), env.restart)
	if opts.saved != nil {
		if err := env.store.Save(opts.saved.SSID, opts.saved.Passphrase); err != nil {
			t.Fatal(err)
		}
	}

	dev, err := device.New(device.Parts{
		Radio: env.radio,
		Store: env.store,
		Strip: indicator.NewMemoryStrip(4),
	}, device.Config{Product: "Lumen", Version: testVersion, TickInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("device.New() error = %v", err)
	}
	env.dev = dev

	part, err := firmware.NewSlotPartition(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	upd := firmware.NewUpdater(part, dev, env.restart, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = dev.Run(ctx)
		close(stopped)
	}()

	s := New(Config{RequestTimeout: 2 * time.Second}, dev, upd, metrics.New(version.Info{Version: testVersion}))
	s.base = ctx
	env.srv = httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		env.srv.Close()
		cancel()
		<-stopped
		// Let a running update observe the cancellation before TempDir cleanup.
		deadline := time.Now().Add(2 * time.Second)
		for upd.Running() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
	})
	return env
}

func (e *testEnv) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: decode: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) post(t *testing.T, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("POST %s: decode: %v", path, err)
		}
	}
	return resp.StatusCode
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeviceInfo(t *testing.T) {
	env := newEnv(t, envOptions{})

	var info api.DeviceInfo
	if code := env.get(t, "/device_info", &info); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}

	want := api.DeviceInfo{
		MACAddress: "24:0a:c4:12:ab:cd",
		MDNSName:   "lumen-12abcd.local",
		DeviceName: "Lumen_12ABCD",
		Version:    testVersion,
		State:      "provisioning",
	}
	if info != want {
		t.Errorf("device_info = %+v, want %+v", info, want)
	}
}

func TestScan(t *testing.T) {
	env := newEnv(t, envOptions{networks: []wifi.SimNetwork{
		{SSID: "home", Passphrase: "secret123", RSSI: -48},
		{SSID: "cafe", RSSI: -71},
	}})

	var resp api.ScanResponse
	if code := env.get(t, "/scan", &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	want := []api.Network{
		{SSID: "home", RSSI: -48, Encryption: "Secured"},
		{SSID: "cafe", RSSI: -71, Encryption: "Open"},
	}
	if len(resp.Networks) != len(want) {
		t.Fatalf("networks = %+v", resp.Networks)
	}
	for i := range want {
		if resp.Networks[i] != want[i] {
			t.Errorf("network %d = %+v, want %+v", i, resp.Networks[i], want[i])
		}
	}
}

func TestConnectRespondsBeforeOutcome(t *testing.T) {
	env := newEnv(t, envOptions{
		networks:       []wifi.SimNetwork{{SSID: "home", Passphrase: "secret123"}},
		associateDelay: time.Hour,
	})
	waitFor(t, "access point", func() bool { return env.radio.APSSID() == "Lumen_12ABCD" })

	var resp api.Status
	code := env.post(t, "/connect", `{"ssid":"home","passphrase":"secret123"}`, &resp)
	if code != http.StatusOK || resp.Status != api.StatusSuccess {
		t.Fatalf("POST /connect = %d %+v", code, resp)
	}

	if got := env.store.Load(); got.SSID != "home" || got.Passphrase != "secret123" {
		t.Errorf("stored credentials = %+v", got)
	}
	if env.dev.Attached() {
		t.Error("attached although the association cannot have completed")
	}
	if got := env.dev.State(); got != wifi.StateAttaching {
		t.Errorf("State() = %v, want attaching", got)
	}
}

func TestConnectRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `ssid=home`},
		{"empty body", ``},
		{"missing ssid", `{"passphrase":"secret123"}`},
		{"ssid too long", `{"ssid":"` + strings.Repeat("x", 32) + `"}`},
		{"passphrase too long", `{"ssid":"home","passphrase":"` + strings.Repeat("p", 64) + `"}`},
		{"wrong type", `{"ssid":42}`},
	}

	env := newEnv(t, envOptions{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp api.Status
			if code := env.post(t, "/connect", tt.body, &resp); code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
			if resp.Status != api.StatusError || resp.Message == "" {
				t.Errorf("body = %+v", resp)
			}
		})
	}

	if !env.store.Load().Empty() {
		t.Error("rejected request stored credentials")
	}
	if env.dev.State() != wifi.StateProvisioning {
		t.Errorf("State() = %v after rejected requests", env.dev.State())
	}
}

func TestLEDOffRetainsSettings(t *testing.T) {
	env := newEnv(t, envOptions{})

	var st api.LEDState
	code := env.post(t, "/led", `{"state":"on","brightness":40,"color":{"r":10,"g":20,"b":30,"w":40}}`, &st)
	if code != http.StatusOK || !st.IsOn || st.Brightness != 40 {
		t.Fatalf("POST /led on = %d %+v", code, st)
	}

	code = env.post(t, "/led", `{"state":"off","brightness":100,"color":{"r":255}}`, &st)
	if code != http.StatusOK {
		t.Fatalf("POST /led off = %d", code)
	}

	st = api.LEDState{}
	env.get(t, "/led", &st)
	want := api.LEDState{IsOn: false, Brightness: 40, Color: api.Color{R: 10, G: 20, B: 30, W: 40}}
	if st != want {
		t.Errorf("GET /led = %+v, want %+v", st, want)
	}
}

func TestLEDBrightnessRoundTrip(t *testing.T) {
	env := newEnv(t, envOptions{})

	for _, pct := range []int{0, 1, 33, 50, 99, 100} {
		var st api.LEDState
		env.post(t, "/led", `{"state":"on","brightness":`+strconv.Itoa(pct)+`}`, nil)
		env.get(t, "/led", &st)
		if int(st.Brightness) != pct {
			t.Errorf("brightness %d read back as %d", pct, st.Brightness)
		}
	}
}

func TestLEDRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown state", `{"state":"dim"}`},
		{"brightness high", `{"brightness":101}`},
		{"brightness negative", `{"brightness":-1}`},
		{"no fields", `{}`},
		{"channel overflow", `{"color":{"r":300}}`},
		{"not json", `on`},
	}

	env := newEnv(t, envOptions{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := env.post(t, "/led", tt.body, nil); code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
		})
	}

	var st api.LEDState
	env.get(t, "/led", &st)
	if st.IsOn || st.Brightness != 100 || st.Color != (api.Color{}) {
		t.Errorf("LED changed by rejected requests: %+v", st)
	}
}

func attachedEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newEnv(t, envOptions{
		networks:       []wifi.SimNetwork{{SSID: "home", Passphrase: "secret123"}},
		saved:          &credstore.Credentials{SSID: "home", Passphrase: "secret123"},
		associateDelay: 5 * time.Millisecond,
	})
	waitFor(t, "attached", env.dev.Attached)
	return env
}

func (e *testEnv) waitUpdate(t *testing.T) api.UpdateStatus {
	t.Helper()
	var st api.UpdateStatus
	waitFor(t, "update to finish", func() bool {
		st = api.UpdateStatus{}
		e.get(t, "/update_status", &st)
		return st.Finished()
	})
	return st
}

func TestUpdateFirmwareIncomplete(t *testing.T) {
	fw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write(bytes.Repeat([]byte{0xa5}, 800))
	}))
	defer fw.Close()

	env := attachedEnv(t)

	var resp api.Status
	code := env.post(t, "/update_firmware", `{"firmwareURL":"`+fw.URL+`/lumen.bin"}`, &resp)
	if code != http.StatusOK || resp.Status != api.StatusStarted {
		t.Fatalf("POST /update_firmware = %d %+v", code, resp)
	}

	st := env.waitUpdate(t)
	if st.Phase != "failed" || st.ErrorKind != "Incomplete" {
		t.Errorf("update status = %+v, want Incomplete failure", st)
	}
	if env.restart.restarts() != 0 {
		t.Error("device restarted after incomplete image")
	}

	var info api.DeviceInfo
	env.get(t, "/device_info", &info)
	if info.Version != testVersion {
		t.Errorf("version = %q after failed update, want %q", info.Version, testVersion)
	}
}

func TestUpdateFirmwareSuccessRestarts(t *testing.T) {
	image := bytes.Repeat([]byte{0x5a}, 3000)
	fw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(image)))
		_, _ = w.Write(image)
	}))
	defer fw.Close()

	env := attachedEnv(t)

	if code := env.post(t, "/update_firmware?firmwareURL="+fw.URL, "", nil); code != http.StatusOK {
		t.Fatalf("POST /update_firmware = %d", code)
	}
	st := env.waitUpdate(t)
	if st.Phase != "done" || st.BytesWritten != 3000 {
		t.Errorf("update status = %+v", st)
	}
	waitFor(t, "restart", func() bool { return env.restart.restarts() == 1 })
}

func TestUpdateFirmwareWithoutNetwork(t *testing.T) {
	env := newEnv(t, envOptions{})

	if code := env.post(t, "/update_firmware", `{"firmwareURL":"http://192.0.2.1/fw.bin"}`, nil); code != http.StatusOK {
		t.Fatalf("POST /update_firmware = %d", code)
	}
	if st := env.waitUpdate(t); st.ErrorKind != "NoNetwork" {
		t.Errorf("update status = %+v, want NoNetwork", st)
	}
}

func TestUpdateFirmwareRejects(t *testing.T) {
	env := newEnv(t, envOptions{})

	for _, body := range []string{``, `{}`, `{"firmwareURL":"ftp://host/fw.bin"}`, `{"firmwareURL":"not a url"}`} {
		if code := env.post(t, "/update_firmware", body, nil); code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, code)
		}
	}
}

func TestUpdateFirmwareBusy(t *testing.T) {
	release := make(chan struct{})
	fw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Length", "4")
		_, _ = w.Write([]byte("lmn1"))
	}))
	defer fw.Close()

	env := attachedEnv(t)
	body := `{"firmwareURL":"` + fw.URL + `"}`

	if code := env.post(t, "/update_firmware", body, nil); code != http.StatusOK {
		t.Fatalf("first update = %d", code)
	}
	var resp api.Status
	if code := env.post(t, "/update_firmware", body, &resp); code != http.StatusConflict {
		t.Errorf("second update = %d, want 409", code)
	}
	close(release)
	env.waitUpdate(t)
}

func TestEventsStream(t *testing.T) {
	env := newEnv(t, envOptions{})

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// Give the handler time to subscribe before triggering an event.
	time.Sleep(50 * time.Millisecond)
	env.post(t, "/led", `{"state":"on","brightness":50}`, nil)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var e struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if e.Type != string(device.EventLED) {
			continue
		}
		var led device.LEDStatus
		if err := json.Unmarshal(e.Data, &led); err != nil {
			t.Fatal(err)
		}
		if !led.IsOn || led.Brightness != 50 {
			t.Errorf("led event = %+v", led)
		}
		return
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.get(t, "/device_info", nil)

	resp, err := http.Get(env.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)

	for _, want := range []string{"lumen_build_info", `lumen_http_requests_total{method="GET",path="/device_info",status="200"}`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}

func TestMetricsCollapseUnknownPaths(t *testing.T) {
	env := newEnv(t, envOptions{})

	for i := 0; i < 5; i++ {
		resp, err := http.Get(fmt.Sprintf("%s/junk-%d", env.srv.URL, i))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET /junk-%d = %d, want 404", i, resp.StatusCode)
		}
	}

	resp, err := http.Get(env.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	body := buf.String()

	if strings.Contains(body, "junk") {
		t.Error("/metrics has a series for a raw request path")
	}
	want := `lumen_http_requests_total{method="GET",path="unmatched",status="404"} 5`
	if !strings.Contains(body, want) {
		t.Errorf("/metrics missing %q", want)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newEnv(t, envOptions{})

	req, _ := http.NewRequest(http.MethodDelete, env.srv.URL+"/led", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("DELETE /led = %d, want 405", resp.StatusCode)
	}
}

func TestCommandRateLimit(t *testing.T) {
	env := newEnv(t, envOptions{})

	limited := false
	for i := 0; i < 30; i++ {
		if env.post(t, "/led", `{"state":"on"}`, nil) == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("30 back-to-back commands were never rate limited")
	}
}
