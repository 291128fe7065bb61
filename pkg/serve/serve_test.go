package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/willbeason/insurance-eligibility/pkg/config"
	"github.com/willbeason/insurance-eligibility/pkg/docstore"
	"github.com/willbeason/insurance-eligibility/pkg/features"
	"github.com/willbeason/insurance-eligibility/pkg/ingest"
	"github.com/willbeason/insurance-eligibility/pkg/ml"
	"github.com/willbeason/insurance-eligibility/pkg/model"
	"github.com/willbeason/insurance-eligibility/pkg/objstore"
	"github.com/willbeason/insurance-eligibility/pkg/schema"
	"github.com/willbeason/insurance-eligibility/pkg/synthetic"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func trainArtifact(t *testing.T, seed int64) (*features.Transform, *model.Artifact, []byte) {
	t.Helper()
	ctx := context.Background()
	sch, err := schema.Default()
	require.NoError(t, err)

	cfg, err := config.Default()
	require.NoError(t, err)
	documents := docstore.NewMemory()
	_, err = documents.InsertAll(ctx, "customers", synthetic.Records(300, 0.3, seed))
	require.NoError(t, err)

	frame, err := ingest.NewLoader(documents, sch, cfg.Ingestion, zaptest.NewLogger(t)).Load(ctx, "customers")
	require.NoError(t, err)
	transform := features.BuildPipeline(sch)
	labels, err := transform.Labels(frame)
	require.NoError(t, err)
	encoded, err := transform.Encode(frame)
	require.NoError(t, err)

	p, err := features.Fit(encoded, sch.Scaling)
	require.NoError(t, err)
	m, err := p.Transform(encoded)
	require.NoError(t, err)
	forest := ml.NewForest(ml.WithEstimators(5), ml.WithRandomState(seed))
	require.NoError(t, forest.Fit(ctx, m.Rows, labels))

	a := &model.Artifact{Preprocessor: p, Classifier: forest}
	data, err := a.Encode()
	require.NoError(t, err)
	return transform, a, data
}

func customer() map[string]any {
	return map[string]any{
		"Gender":                 "Male",
		"Age":                    44,
		"Driving_License":        1,
		"Region_Code":            28,
		"Previously_Insured":     0,
		"Annual_Premium":         40454,
		"Policy_Sales_Channel":   26,
		"Vintage":                217,
		"Vehicle_Age_lt_1_Year":  0,
		"Vehicle_Age_gt_2_Years": 1,
		"Vehicle_Damage_Yes":     1,
	}
}

func expected(t *testing.T, a *model.Artifact) string {
	t.Helper()
	prediction, err := a.PredictRow(map[string]float64{
		"Gender":                 1,
		"Age":                    44,
		"Driving_License":        1,
		"Region_Code":            28,
		"Previously_Insured":     0,
		"Annual_Premium":         40454,
		"Policy_Sales_Channel":   26,
		"Vintage":                217,
		"Vehicle_Age_lt_1_Year":  0,
		"Vehicle_Age_gt_2_Years": 1,
		"Vehicle_Damage_Yes":     1,
	})
	require.NoError(t, err)
	return Label(prediction)
}

func newServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	sch, err := schema.Default()
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	return New(features.BuildPipeline(sch), "/predict", reg, zaptest.NewLogger(t)), reg
}

func postJSON(t *testing.T, router http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/predict", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLabel(t *testing.T) {
	assert.Equal(t, Eligible, Label(1))
	assert.Equal(t, NotEligible, Label(0))
}

func TestPredictAPI(t *testing.T) {
	_, a, data := trainArtifact(t, 5)
	s, _ := newServer(t)
	require.NoError(t, s.SetModel(data))
	router := s.Router()

	w := postJSON(t, router, customer())

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got Prediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, expected(t, a), got.Result)
	assert.Equal(t, got.Result == Eligible, got.Prediction == 1)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.predictions.WithLabelValues(got.Result)))
}

func TestPredictAPI_NoModel(t *testing.T) {
	s, _ := newServer(t)

	w := postJSON(t, s.Router(), customer())

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), ErrNoModel.Error())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.failures.WithLabelValues("no_model")))
}

func TestPredictAPI_InvalidInput(t *testing.T) {
	_, _, data := trainArtifact(t, 5)
	s, _ := newServer(t)
	require.NoError(t, s.SetModel(data))
	router := s.Router()

	missing := customer()
	delete(missing, "Vintage")
	unknown := customer()
	unknown["Gender"] = "Other"

	tcs := []struct {
		name string
		body map[string]any
	}{
		{name: "missing field", body: missing},
		{name: "unknown category", body: unknown},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(t, router, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestPredictAPI_ZeroIsNotMissing(t *testing.T) {
	_, _, data := trainArtifact(t, 5)
	s, _ := newServer(t)
	require.NoError(t, s.SetModel(data))

	body := customer()
	body["Previously_Insured"] = 0
	body["Vehicle_Damage_Yes"] = 0

	w := postJSON(t, s.Router(), body)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestForm(t *testing.T) {
	_, a, data := trainArtifact(t, 9)
	s, _ := newServer(t)
	require.NoError(t, s.SetModel(data))
	router := s.Router()

	form := url.Values{}
	for k, v := range customer() {
		form.Set(k, fmt.Sprint(v))
	}

	for _, path := range []string{"/", "/predict/"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `<h2 id="result">`+expected(t, a)+`</h2>`)
		})
	}
}

func TestIndex(t *testing.T) {
	s, _ := newServer(t)
	router := s.Router()

	for _, path := range []string{"/", "/predict/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `name="Annual_Premium"`)
		assert.NotContains(t, w.Body.String(), `id="result"`)
	}
}

func TestHealth(t *testing.T) {
	_, _, data := trainArtifact(t, 5)
	s, _ := newServer(t)
	router := s.Router()

	health := func() map[string]any {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body
	}

	assert.Equal(t, false, health()["model_loaded"])

	require.NoError(t, s.SetModel(data))
	body := health()
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, model.Digest(data), body["model_digest"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newServer(t)
	router := s.Router()
	postJSON(t, router, customer())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `insurance_eligibility_serve_prediction_failures_total{reason="no_model"} 1`)
}

func TestLoadFromStore(t *testing.T) {
	_, _, data := trainArtifact(t, 5)
	store, err := objstore.NewDir(t.TempDir(), "models")
	require.NoError(t, err)
	s, _ := newServer(t)

	err = s.LoadFromStore(context.Background(), store, "model.pkl")
	assert.ErrorIs(t, err, ErrModelNotFound)

	require.NoError(t, store.Put(context.Background(), "model.pkl", data))
	require.NoError(t, s.LoadFromStore(context.Background(), store, "model.pkl"))
	assert.Equal(t, model.Digest(data), s.model.Load().digest)
}

func TestSetModel_KeepsCurrentOnFailure(t *testing.T) {
	_, _, data := trainArtifact(t, 5)
	s, _ := newServer(t)
	require.NoError(t, s.SetModel(data))

	assert.Error(t, s.SetModel([]byte("not a model")))
	assert.Equal(t, model.Digest(data), s.model.Load().digest)
}

func TestWatch(t *testing.T) {
	_, first, _ := trainArtifact(t, 5)
	_, second, secondData := trainArtifact(t, 6)
	path := filepath.Join(t.TempDir(), "model.pkl")
	require.NoError(t, first.Save(path))

	s, _ := newServer(t)
	require.NoError(t, s.LoadFile(path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, path)
	}()

	// Let the watcher register before the file changes.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, second.Save(path))

	assert.Eventually(t, func() bool {
		return s.model.Load().digest == model.Digest(secondData)
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("truncated"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, model.Digest(secondData), s.model.Load().digest)

	cancel()
	require.NoError(t, <-done)
}
