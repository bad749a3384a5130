package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/calibration"
	"github.com/relabs-tech/device_mapper/internal/config"
	"github.com/relabs-tech/device_mapper/internal/device"
	"github.com/relabs-tech/device_mapper/internal/interpreter"
	"github.com/relabs-tech/device_mapper/internal/mapper"
	"github.com/relabs-tech/device_mapper/internal/orientation"
	"github.com/relabs-tech/device_mapper/internal/persist"
	"github.com/relabs-tech/device_mapper/internal/store"
)

type fixture struct {
	devices *device.Store
	svc     *mapper.Service
	handler http.Handler
}

func newFixture(t *testing.T, profiles Profiles, opts ...RouterOption) *fixture {
	t.Helper()
	devices := device.NewStore(time.Minute)
	svc := mapper.NewService(devices, mapper.WithCalibrationWindow(20*time.Millisecond))
	return &fixture{
		devices: devices,
		svc:     svc,
		handler: NewRouter(svc, devices, profiles, nil, opts...),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

const gripBinding = `{
	"mappings": [{"input": {"device": "glove", "label": "grip"}, "channel": "value"}],
	"mode": "direct",
	"output": {"value": {"min": 0, "max": 10}}
}`

func (f *fixture) bindGrip(t *testing.T) {
	t.Helper()
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPut, "/api/targets/hand", "").Code)
	rec := f.do(t, http.MethodPut, "/api/bindings/hand/value", gripBinding)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func TestTargets(t *testing.T) {
	f := newFixture(t, nil)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPut, "/api/targets/hand", "").Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPut, "/api/targets/hand", "").Code)

	rec := f.do(t, http.MethodGet, "/api/targets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["hand"]`, rec.Body.String())

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/targets/hand", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/targets/hand", "").Code)
}

func TestBindings(t *testing.T) {
	f := newFixture(t, nil)
	f.bindGrip(t)

	f.devices.Apply(device.ValueFrame("glove", "grip", 4, time.Time{}))
	require.NoError(t, f.svc.Tick(context.Background(), time.Now(), 20*time.Millisecond))

	rec := f.do(t, http.MethodGet, "/api/bindings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []BindingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "hand", views[0].Target)
	assert.Equal(t, axis.Scalar, views[0].Kind)
	assert.Equal(t, axis.Direct, views[0].Mode)
	assert.Equal(t, "bound", views[0].State)
	assert.Equal(t, 4.0, views[0].Value)
	assert.Equal(t, "glove/grip", views[0].Mappings[0].Input.String())

	err := f.svc.Do(func(reg *mapper.Registry) error {
		b, err := reg.Binding("hand", axis.Scalar)
		require.NoError(t, err)
		assert.Equal(t, 10.0, b.Interpreter.Profile().OutputMax(axis.Value))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/bindings/hand/value", "").Code)
	rec = f.do(t, http.MethodGet, "/api/bindings", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestBindingErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.bindGrip(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown kind", http.MethodPut, "/api/bindings/hand/colour", gripBinding, http.StatusBadRequest},
		{"unknown target", http.MethodPut, "/api/bindings/foot/value", gripBinding, http.StatusNotFound},
		{"mapping count", http.MethodPut, "/api/bindings/hand/position", gripBinding, http.StatusBadRequest},
		{"bad json", http.MethodPut, "/api/bindings/hand/value", `{"mappings":`, http.StatusBadRequest},
		{"unknown field", http.MethodPut, "/api/bindings/hand/value", `{"colour": 1}`, http.StatusBadRequest},
		{"foreign axis", http.MethodPut, "/api/bindings/hand/value",
			`{"mappings":[{"input":{"device":"glove","label":"grip"},"channel":"value"}],"speed":{"x":3}}`, http.StatusBadRequest},
		{"unbind unknown target", http.MethodDelete, "/api/bindings/foot/value", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestDocument(t *testing.T) {
	f := newFixture(t, nil)
	f.bindGrip(t)

	rec := f.do(t, http.MethodGet, "/api/document", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := rec.Body.String()

	var doc persist.Document
	require.NoError(t, json.Unmarshal([]byte(body), &doc))
	require.Len(t, doc.Objects, 1)
	assert.Equal(t, axis.Direct, doc.Objects[0].Gops[0].Mode)

	rec = f.do(t, http.MethodGet, "/api/document?format=yaml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "info_type: value")

	other := newFixture(t, nil)
	rec = other.do(t, http.MethodPut, "/api/document", body)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = other.do(t, http.MethodGet, "/api/document", "")
	assert.JSONEq(t, body, rec.Body.String())

	bad := `{"version":1,"objects":[{"name":"hand","gops":[{"info_type":"position","mappings":[]}]}]}`
	assert.Equal(t, http.StatusUnprocessableEntity, other.do(t, http.MethodPut, "/api/document", bad).Code)
	assert.Equal(t, http.StatusBadRequest, other.do(t, http.MethodPut, "/api/document", "{").Code)
}

func TestProfiles(t *testing.T) {
	profiles, err := store.Open(filepath.Join(t.TempDir(), "profiles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { profiles.Close() })

	f := newFixture(t, profiles)
	f.bindGrip(t)

	rec := f.do(t, http.MethodPut, "/api/profiles/alice", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sum store.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, "alice", sum.Name)

	rec = f.do(t, http.MethodGet, "/api/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alice"`)

	rec = f.do(t, http.MethodGet, "/api/profiles/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"grip"`)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/bindings/hand/value", "").Code)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/api/profiles/alice/restore", "").Code)
	rec = f.do(t, http.MethodGet, "/api/bindings", "")
	assert.Contains(t, rec.Body.String(), `"hand"`)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/profiles/alice", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/profiles/alice", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/profiles/alice/restore", "").Code)
}

func TestProfilesNotConfigured(t *testing.T) {
	f := newFixture(t, nil)
	for _, path := range []string{"/api/profiles", "/api/profiles/alice"} {
		assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, path, "").Code)
	}
}

func TestPreview(t *testing.T) {
	f := newFixture(t, nil)
	f.bindGrip(t)

	rec := f.do(t, http.MethodGet, "/api/preview/hand/value.webp", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
	img, err := webp.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/preview/foot/value.webp", "").Code)
}

func TestCalibrationStatusIdle(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/calibration", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":null,"last":null}`, rec.Body.String())
}

func TestInputs(t *testing.T) {
	f := newFixture(t, nil)
	f.devices.Apply(device.ValueFrame("glove", "grip", 1, time.Time{}))
	rec := f.do(t, http.MethodGet, "/api/inputs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"device":"glove","label":"grip"}]`, rec.Body.String())
}

func tickUntilDone(t *testing.T, svc *mapper.Service) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				svc.Tick(ctx, now, 5*time.Millisecond)
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) WSResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var resp WSResponse
		require.NoError(t, conn.ReadJSON(&resp))
		if resp.Type == typ {
			return resp
		}
		require.NotEqual(t, "error", resp.Type, resp.Message)
	}
}

func TestCalibrationWebSocket(t *testing.T) {
	f := newFixture(t, nil, WithStatusInterval(5*time.Millisecond))
	f.bindGrip(t)
	f.devices.Apply(device.ValueFrame("glove", "grip", 5, time.Time{}))

	srv := httptest.NewServer(f.handler)
	defer srv.Close()
	tickUntilDone(t, f.svc)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/calibration"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "accept"}))
	resp := readUntil(t, conn, "error")
	assert.Equal(t, calibration.ErrNoSession.Error(), resp.Message)

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "start", Target: "hand", Kind: axis.Scalar, Axis: axis.Value, Channel: axis.ChannelValue}))
	started := readUntil(t, conn, "started")
	assert.Equal(t, "max", started.Phase)
	assert.True(t, started.AwaitsAccept)

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "accept"}))
	phase := readUntil(t, conn, "phase")
	assert.Equal(t, "min", phase.Phase)

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "accept"}))
	complete := readUntil(t, conn, "complete")
	require.NotNil(t, complete.Results)
	assert.Equal(t, started.Session, complete.Results.ID)
	assert.Equal(t, calibration.Done, complete.Results.Status)
	assert.Equal(t, 5.0, complete.Results.Input.Min)
	assert.Equal(t, 5.0, complete.Results.Input.Max)

	rec := f.do(t, http.MethodGet, "/api/calibration", "")
	assert.Contains(t, rec.Body.String(), `"status":"done"`)
}

func TestCalibrationWebSocketCancel(t *testing.T) {
	f := newFixture(t, nil, WithStatusInterval(5*time.Millisecond))
	f.bindGrip(t)

	srv := httptest.NewServer(f.handler)
	defer srv.Close()
	tickUntilDone(t, f.svc)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/calibration"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "start", Target: "hand", Kind: axis.Scalar, Axis: axis.Value}))
	assert.Equal(t, "start needs a channel", readUntil(t, conn, "error").Message)

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "start", Target: "hand", Kind: axis.Scalar, Axis: axis.Value, Channel: axis.ChannelValue}))
	readUntil(t, conn, "started")
	require.NoError(t, conn.WriteJSON(WSMessage{Action: "cancel"}))
	cancelled := readUntil(t, conn, "cancelled")
	assert.Equal(t, calibration.Cancelled, cancelled.Results.Status)
}

func TestCalibrationWebSocketCancelOnlyOwnSession(t *testing.T) {
	f := newFixture(t, nil, WithStatusInterval(5*time.Millisecond))
	f.bindGrip(t)

	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/calibration"
	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()

	start := WSMessage{Action: "start", Target: "hand", Kind: axis.Scalar, Axis: axis.Value, Channel: axis.ChannelValue}
	require.NoError(t, first.WriteJSON(start))
	readUntil(t, first, "started")
	require.NoError(t, first.WriteJSON(WSMessage{Action: "cancel"}))
	readUntil(t, first, "cancelled")

	require.NoError(t, second.WriteJSON(start))
	owned := readUntil(t, second, "started")

	require.NoError(t, first.WriteJSON(WSMessage{Action: "cancel"}))
	resp := readUntil(t, first, "error")
	assert.Equal(t, calibration.ErrNoSession.Error(), resp.Message)

	live, ok := f.svc.Calibration(time.Now())
	require.True(t, ok)
	assert.Equal(t, owned.Session, live.ID)
}

func TestHostPublishesChanges(t *testing.T) {
	var (
		mu        sync.Mutex
		published []string
	)
	publish := func(topic string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, topic)
		return nil
	}

	cfg := config.Defaults()
	cfg.Targets = []string{"door"}
	host, err := NewHost(cfg, nil, publish)
	require.NoError(t, err)

	err = host.Service.Do(func(reg *mapper.Registry) error {
		if err := reg.Bind("door", axis.Boolean, mappingsFor("glove", "trigger", axis.ChannelBool)); err != nil {
			return err
		}
		b, _ := reg.Binding("door", axis.Boolean)
		b.Interpreter.SetMode(axis.Direct)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	host.Devices.Apply(device.BoolFrame("glove", "trigger", true, now))
	require.NoError(t, host.Step(ctx, now, 20*time.Millisecond))
	require.NoError(t, host.Step(ctx, now, 20*time.Millisecond))
	assert.Equal(t, []string{"mapper/door/bool"}, published)

	host.Devices.Apply(device.BoolFrame("glove", "trigger", false, now))
	require.NoError(t, host.Step(ctx, now, 20*time.Millisecond))
	assert.Len(t, published, 2)

	b, err := hostBinding(host, "door", axis.Boolean)
	require.NoError(t, err)
	sink := b.Sink.(*interpreter.RecordingSink)
	assert.False(t, sink.Bool)
	assert.Equal(t, 3, sink.Writes)
}

func TestHostPublishError(t *testing.T) {
	cfg := config.Defaults()
	cfg.Targets = []string{"door"}
	host, err := NewHost(cfg, nil, func(string, []byte) error { return errors.New("broker down") })
	require.NoError(t, err)
	require.NoError(t, host.Service.Do(func(reg *mapper.Registry) error {
		return reg.Bind("door", axis.Scalar, mappingsFor("glove", "grip", axis.ChannelValue))
	}))
	assert.ErrorContains(t, host.Step(context.Background(), time.Now(), time.Millisecond), "broker down")
}

func TestHostStartupDocument(t *testing.T) {
	reg := mapper.NewRegistry(nil, nil)
	require.NoError(t, reg.AddTarget("door", nil))
	require.NoError(t, reg.Bind("door", axis.Scalar, mappingsFor("glove", "grip", axis.ChannelValue)))
	path := filepath.Join(t.TempDir(), "startup.yaml")
	require.NoError(t, persist.SaveFile(path, persist.Snapshot(reg)))

	cfg := config.Defaults()
	cfg.Targets = []string{"door", "lamp"}
	cfg.StartupDocument = path
	host, err := NewHost(cfg, nil, nil)
	require.NoError(t, err)

	b, err := hostBinding(host, "door", axis.Scalar)
	require.NoError(t, err)
	assert.True(t, b.Bound())
	assert.NotNil(t, b.Sink)

	cfg.StartupDocument = filepath.Join(t.TempDir(), "missing.json")
	_, err = NewHost(cfg, nil, nil)
	assert.Error(t, err)
}

func TestFormatOutput(t *testing.T) {
	tests := []struct {
		out  mapper.Output
		want string
	}{
		{mapper.Output{Target: "door", Kind: axis.Boolean, Value: interpreter.MapperValue{Bool: true}}, "true"},
		{mapper.Output{Target: "hand", Kind: axis.Scalar, Value: interpreter.MapperValue{Value: 0.25}}, "0.250"},
		{mapper.Output{Target: "hand", Kind: axis.Position, Value: interpreter.MapperValue{Position: orientation.Vec3{X: 1}}}, "X=   1.000"},
		{mapper.Output{Target: "head", Kind: axis.Rotation, Value: interpreter.MapperValue{Rotation: orientation.Vec3{Y: 90}}}, "Y= 90.00°"},
		{mapper.Output{Target: "arm", Kind: axis.Sample, Value: interpreter.MapperValue{Sample: []float64{1, 2}}}, "[1.000 2.000]"},
	}
	for _, tt := range tests {
		got := FormatOutput(tt.out)
		assert.True(t, strings.HasPrefix(got, "["+tt.out.Target+"/"+tt.out.Kind.String()+"]"), got)
		assert.Contains(t, got, tt.want)
	}
}

func TestCalibrate(t *testing.T) {
	devices := device.NewStore(time.Minute)
	svc := mapper.NewService(devices, mapper.WithCalibrationWindow(10*time.Millisecond))
	devices.Apply(device.PositionFrame("kinect", "hand", orientation.Vec3{Y: 2}, time.Time{}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var buf bytes.Buffer
	req := CalibrationRequest{
		Input:   mappingsFor("kinect", "hand", axis.PosY)[0].Input,
		Kind:    axis.Position,
		Axis:    axis.Y,
		Channel: axis.PosY,
	}
	out, err := Calibrate(ctx, svc, req, 2*time.Millisecond, nil, &buf)
	require.NoError(t, err)
	assert.Equal(t, calibration.Done, out.Status)
	assert.Equal(t, 2.0, out.Input.Min)
	assert.Equal(t, 2.0, out.Input.Max)
	assert.Contains(t, buf.String(), "MAXIMUM")
	assert.Contains(t, buf.String(), "MINIMUM")
	assert.NotContains(t, buf.String(), "CENTER")

	_, err = Calibrate(ctx, svc, CalibrationRequest{Kind: axis.Sample, Axis: axis.Value, Channel: axis.ChannelSample}, time.Millisecond, nil, &buf)
	assert.ErrorIs(t, err, interpreter.ErrNotCalibratable)
}

func TestRunConsole(t *testing.T) {
	cfg := config.Defaults()
	cfg.ProducerInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	require.NoError(t, RunConsole(ctx, cfg, &buf))
	for _, k := range axis.Kinds {
		assert.Contains(t, buf.String(), "[demo/"+k.String()+"]")
	}
}

func TestProduce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	read := func(t time.Time) ([]device.Frame, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("sensor busy")
		}
		return []device.Frame{device.ValueFrame("mock", "grip", float64(calls), t)}, nil
	}
	var got []device.Frame
	publish := func(frames ...device.Frame) error {
		got = append(got, frames...)
		if len(got) == 3 {
			cancel()
		}
		return nil
	}

	err := produce(ctx, time.Millisecond, read, publish, zapNop())
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 3)
	assert.Equal(t, 2.0, *got[0].Value)
}
