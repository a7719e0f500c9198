package api_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/api"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/config"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/history"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/inference"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/infrastructure"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/records"
	"github.com/hoangtdhdhcn/mammo-ai-app/migrations"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/database"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/module"
	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/storage"
)

const actor = "radiologist-1"

// modelServer fakes the external detection service with one fixed finding
// in canvas pixels.
func modelServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/detect":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"detections": []map[string]any{
					{"x": 100, "y": 100, "width": 100, "height": 100, "class_id": 0, "class": "mass", "confidence": 0.9},
					{"x": 400, "y": 400, "width": 20, "height": 20, "class_id": 1, "class": "calcification", "confidence": 0.1},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()

	cfg := &config.Config{
		Database: database.Config{
			Driver: database.SQLite,
			Path:   filepath.Join(t.TempDir(), "mammo.db"),
		},
		Storage: storage.Config{Provider: storage.ProviderMemory},
		Inference: inference.Config{
			Provider: inference.ProviderHTTP,
			Endpoint: endpoint,
			Model:    "yolov5-mammo",
		},
	}
	cfg.Sealing.Key = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{3}, 32))
	cfg.Sealing.IndexKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{4}, 32))
	require.NoError(t, cfg.Finalize())
	require.NoError(t, migrations.Up(database.SQLite, cfg.Database.MigrationURL()))
	return cfg
}

func newRouter(t *testing.T) *module.Router {
	t.Helper()
	cfg := testConfig(t, modelServer(t).URL)

	infra, err := infrastructure.New(cfg)
	require.NoError(t, err)
	require.NoError(t, infra.Start())
	t.Cleanup(func() { infra.Lifecycle.Shutdown(5 * time.Second) })

	m, err := api.NewModule(cfg, infra)
	require.NoError(t, err)
	infra.Lifecycle.WaitForStartup()

	router := module.NewRouter()
	router.Mount(m)
	return router
}

func do(router http.Handler, req *http.Request, who string) *httptest.ResponseRecorder {
	if who != "" {
		req.Header.Set("X-Actor", who)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func mammogram(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := range 64 {
		for x := range 64 {
			img.SetGray(x, y, color.Gray{Y: uint8(x*4 + y)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func submit(t *testing.T, router http.Handler, patientID string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("patient_id", patientID))
	part, err := mw.CreateFormFile("file", "left-cc.png")
	require.NoError(t, err)
	_, err = part.Write(mammogram(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/analyses", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return do(router, req, actor)
}

func TestEndToEnd(t *testing.T) {
	router := newRouter(t)

	rec := do(router, httptest.NewRequest("POST", "/api/patients",
		bytes.NewBufferString(`{"first_name":"Thu","last_name":"Nguyen","medical_record_number":"MRN-7"}`)), actor)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var patient records.Patient
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &patient))
	pid := patient.ID.String()

	rec = submit(t, router, pid)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result records.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, records.StatusCompleted, result.Status)
	require.Len(t, result.Detections, 1, "low confidence finding filtered")
	assert.Equal(t, "mass", result.Detections[0].Label)
	assert.InDelta(t, 100.0/640, result.Detections[0].Box.X1, 1e-9)
	assert.Equal(t, "yolov5-mammo", result.Config.Model)

	rec = submit(t, router, pid)
	assert.Equal(t, http.StatusConflict, rec.Code, "resubmission inside the dedup window")

	rec = do(router, httptest.NewRequest("GET", "/api/analyses/"+result.ID.String(), nil), actor)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, httptest.NewRequest("GET", "/api/patients/"+pid+"/timeline", nil), actor)
	require.Equal(t, http.StatusOK, rec.Code)
	var timeline []records.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &timeline))
	assert.Len(t, timeline, 1)

	rec = do(router, httptest.NewRequest("GET", "/api/patients/"+pid+"/summary", nil), actor)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary history.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.LatestDetections)

	rec = do(router, httptest.NewRequest("GET", "/api/patients/"+pid+"/trend?metric=max_confidence", nil), actor)
	require.Equal(t, http.StatusOK, rec.Code)
	var points []history.Point
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 1)
	assert.InDelta(t, 0.9, points[0].Value, 1e-9)

	rec = do(router, httptest.NewRequest("GET", "/api/statistics", nil), actor)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats history.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Patients)
	assert.Equal(t, 1, stats.Analyses)
	assert.InDelta(t, 1.0, stats.CompletionRate, 1e-9)

	rec = do(router, httptest.NewRequest("GET", "/api/audit?actor="+actor, nil), actor)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, httptest.NewRequest("GET", "/api/model/status", nil), actor)
	require.Equal(t, http.StatusOK, rec.Code)
	var status inference.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Reachable)
	assert.Equal(t, "yolov5-mammo", status.Model)
}

func TestRequiresActor(t *testing.T) {
	router := newRouter(t)

	rec := do(router, httptest.NewRequest("GET", "/api/patients", nil), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(router, httptest.NewRequest("GET", "/api/statistics", nil), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestID(t *testing.T) {
	router := newRouter(t)

	req := httptest.NewRequest("GET", "/api/model/status", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := do(router, req, actor)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewModuleRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Inference.Provider = "tensorflow"

	infra, err := infrastructure.New(cfg)
	require.NoError(t, err)

	_, err = api.NewModule(cfg, infra)
	assert.ErrorIs(t, err, inference.ErrUnsupportedProvider)
}

func TestDomainRecordsCannotWriteAnalyses(t *testing.T) {
	field, ok := reflect.TypeFor[api.Domain]().FieldByName("Records")
	require.True(t, ok)
	assert.False(t, field.Type.Implements(reflect.TypeFor[records.AnalysisWriter]()),
		"analysis results are written through the workflow only")
}
