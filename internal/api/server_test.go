package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/mmoffload/internal/device"
	"github.com/samcharles93/mmoffload/internal/device/emulator"
	"github.com/samcharles93/mmoffload/internal/offload"
	"github.com/samcharles93/mmoffload/internal/xclbin"
)

type memSource []byte

func (m memSource) Resolve(kernel, deviceName string) ([]byte, error) {
	if kernel != emulator.MatrixMultKernel {
		return nil, xclbin.ErrNotFound
	}
	return m, nil
}

func newTestServer(t *testing.T) (*Server, *echo.Echo) {
	t.Helper()
	bin, err := xclbin.Build(xclbin.Metadata{
		Device:  emulator.DefaultDeviceName,
		Kernels: []xclbin.Kernel{{Name: emulator.MatrixMultKernel, Args: emulator.MatrixMultArgs}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rt := emulator.New(emulator.Options{Workers: 2})
	t.Cleanup(func() { _ = rt.Close() })

	server := NewServer(Config{
		Runtime:  rt,
		Programs: memSource(bin),
		Defaults: offload.DefaultConfig(),
		KeepRuns: 8,
	})
	e := echo.New()
	server.Register(e)
	return server, e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body.String())
	}
}

func TestListDevices(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)
	rec := doJSON(t, e, http.MethodGet, "/v1/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	var list DeviceList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Runtime != "emulator" || len(list.Data) != 1 || list.Data[0].Name != emulator.DefaultDeviceName {
		t.Fatalf("unexpected device list %+v", list)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/runs", `{"size":32,"block_size":16,"seed":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status %d body=%s", rec.Code, rec.Body.String())
	}
	var created Run
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(created.ID, "run_") || created.Status != StatusPassed {
		t.Fatalf("unexpected run %+v", created)
	}
	if created.Outcome.Seed != 3 || created.Outcome.Verdict != "PASSED" || created.Outcome.Result.State != offload.Finished {
		t.Fatalf("unexpected outcome %+v", created.Outcome)
	}
	if !strings.Contains(created.Transcript, "TEST PASSED") {
		t.Fatalf("transcript missing verdict: %q", created.Transcript)
	}

	get := doJSON(t, e, http.MethodGet, "/v1/runs/"+created.ID, "")
	if get.Code != http.StatusOK {
		t.Fatalf("get status %d", get.Code)
	}
	var fetched Run
	if err := json.Unmarshal(get.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetched.ID != created.ID || fetched.Outcome.Result.KernelNS != created.Outcome.Result.KernelNS {
		t.Fatalf("fetched %+v, want %+v", fetched, created)
	}

	list := doJSON(t, e, http.MethodGet, "/v1/runs", "")
	if !strings.Contains(list.Body.String(), created.ID) {
		t.Fatalf("list missing run: %s", list.Body.String())
	}

	del := doJSON(t, e, http.MethodDelete, "/v1/runs/"+created.ID, "")
	if del.Code != http.StatusOK {
		t.Fatalf("delete status %d", del.Code)
	}
	if again := doJSON(t, e, http.MethodGet, "/v1/runs/"+created.ID, ""); again.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", again.Code)
	}
}

func TestCreateRunEmptyBodyUsesDefaults(t *testing.T) {
	t.Parallel()
	s, e := newTestServer(t)
	s.seed = func() uint64 { return 11 }

	rec := doJSON(t, e, http.MethodPost, "/v1/runs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	var run Run
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatal(err)
	}
	if run.Outcome.Config.Size != offload.DefaultSize || run.Outcome.Seed != 11 {
		t.Fatalf("unexpected outcome %+v", run.Outcome)
	}
}

func TestCreateRunRejectsBadGeometry(t *testing.T) {
	t.Parallel()
	s, e := newTestServer(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/runs", `{"size":30}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "must be a multiple of 16") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if len(s.store.List()) != 0 {
		t.Fatal("rejected request must not create a run")
	}
}

func TestCreateRunRejectsMalformedJSON(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)
	for _, body := range []string{`{"size":`, `{"unknown":1}`} {
		rec := doJSON(t, e, http.MethodPost, "/v1/runs", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", body, rec.Code)
		}
	}
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()
	_, e := newTestServer(t)
	rec := doJSON(t, e, http.MethodGet, "/v1/runs/run_missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

type failingRuntime struct{ device.Runtime }

func (failingRuntime) Name() string { return "broken" }
func (failingRuntime) Devices(context.Context) ([]device.Device, error) {
	return nil, errors.New("platform unavailable")
}

func TestDeviceErrorsSurface(t *testing.T) {
	t.Parallel()
	server := NewServer(Config{
		Runtime:  failingRuntime{},
		Programs: memSource(nil),
		Defaults: offload.DefaultConfig(),
	})
	e := echo.New()
	server.Register(e)

	if rec := doJSON(t, e, http.MethodGet, "/v1/devices", ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("devices status %d", rec.Code)
	}
	rec := doJSON(t, e, http.MethodPost, "/v1/runs", `{}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("run status %d body=%s", rec.Code, rec.Body.String())
	}
	var run Run
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatal(err)
	}
	if run.Status != StatusError || !strings.Contains(run.Outcome.Error, "platform unavailable") {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestRunStoreEvictsOldest(t *testing.T) {
	t.Parallel()
	store := NewRunStore(2)
	for _, id := range []string{"a", "b", "c"} {
		store.Put(Run{ID: id})
	}
	if _, ok := store.Get("a"); ok {
		t.Fatal("oldest run should be evicted")
	}
	runs := store.List()
	if len(runs) != 2 || runs[0].ID != "b" || runs[1].ID != "c" {
		t.Fatalf("unexpected runs %+v", runs)
	}
}
