package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

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
	"github.com/willbeason/insurance-eligibility/pkg/validate"
)

type harness struct {
	pipeline  *Pipeline
	documents *docstore.Memory
	objects   *objstore.Dir
	metrics   *Metrics
	cfg       *config.Config
}

func newHarness(t *testing.T, docs []docstore.Document) harness {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.ArtifactDir = t.TempDir()
	cfg.Trainer.NEstimators = 25

	sch, err := schema.Default()
	require.NoError(t, err)

	documents := docstore.NewMemory()
	_, err = documents.InsertAll(context.Background(), cfg.DocumentStore.Collection, docs)
	require.NoError(t, err)
	objects, err := objstore.NewDir(t.TempDir(), cfg.ObjectStore.Bucket)
	require.NoError(t, err)

	metrics := NewMetrics(prometheus.NewRegistry())
	p := New(cfg, sch, documents, objects, metrics, zaptest.NewLogger(t))
	p.now = func() time.Time { return time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC) }

	return harness{pipeline: p, documents: documents, objects: objects, metrics: metrics, cfg: cfg}
}

func TestRun_EndToEnd(t *testing.T) {
	h := newHarness(t, synthetic.Records(1000, 0.3, 11))

	result, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Contains(t, result.Layout.Root, "10_19_2026_08_30_00")
	assert.Equal(t, 750, result.Ingestion.TrainRows)
	assert.Equal(t, 250, result.Ingestion.TestRows)
	assert.True(t, result.Validation.Passed)
	assert.Len(t, result.Transformation.Columns, 12)
	assert.GreaterOrEqual(t, result.Trainer.TrainAccuracy, 0.7)
	assert.GreaterOrEqual(t, result.Trainer.Metrics.Accuracy, 0.7)

	assert.Nil(t, result.Evaluation.BestF1)
	assert.True(t, result.Evaluation.Accepted)
	require.True(t, result.Pushed())
	assert.Equal(t, h.cfg.Evaluation.ModelKey, result.Pusher.Key)

	lookup, err := h.objects.Fetch(context.Background(), h.cfg.Evaluation.ModelKey)
	require.NoError(t, err)
	require.True(t, lookup.Found)
	assert.Equal(t, result.Pusher.Digest, model.Digest(lookup.Object))
	deployed, err := model.Decode(lookup.Object)
	require.NoError(t, err)
	assert.Len(t, deployed.Classifier.Trees, 25)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.runs.WithLabelValues("pushed")))
	assert.Equal(t, result.Trainer.Metrics.F1, testutil.ToFloat64(h.metrics.modelF1.WithLabelValues("trained")))
	assert.Equal(t, 6, testutil.CollectAndCount(h.metrics.stageDuration))
}

func TestRun_ValidationFailureStops(t *testing.T) {
	docs := synthetic.Records(100, 0.3, 11)
	for _, doc := range docs {
		delete(doc, "Vehicle_Damage")
	}
	h := newHarness(t, docs)

	result, err := h.pipeline.Run(context.Background())

	assert.ErrorIs(t, err, ErrPipeline)
	assert.ErrorIs(t, err, validate.ErrValidationFailed)
	assert.Contains(t, err.Error(), StageValidation)
	assert.False(t, result.Validation.Passed)
	assert.False(t, result.Pushed())
	assert.Empty(t, result.Transformation.TrainPath)

	lookup, err := h.objects.Fetch(context.Background(), h.cfg.Evaluation.ModelKey)
	require.NoError(t, err)
	assert.False(t, lookup.Found)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.runs.WithLabelValues("failed")))
}

type unreachable struct{}

var errUnreachable = errors.New("server selection timeout")

func (unreachable) FetchAll(context.Context, string) ([]docstore.Document, error) {
	return nil, errUnreachable
}

func TestRun_StoreFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.pipeline.documents = unreachable{}

	_, err := h.pipeline.Run(context.Background())

	assert.ErrorIs(t, err, ErrPipeline)
	assert.ErrorIs(t, err, ingest.ErrIngestion)
	assert.ErrorIs(t, err, errUnreachable)
	assert.Contains(t, err.Error(), StageIngestion)
}

// deployPerfect stores a model that memorizes every document, so no trained
// model can beat it on the test partition.
func deployPerfect(t *testing.T, h harness) []byte {
	t.Helper()
	ctx := context.Background()
	sch, err := schema.Default()
	require.NoError(t, err)

	frame, err := ingest.NewLoader(h.documents, sch, h.cfg.Ingestion, zaptest.NewLogger(t)).
		Load(ctx, h.cfg.DocumentStore.Collection)
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
	forest := ml.NewForest(ml.WithEstimators(3), ml.WithBootstrap(false), ml.WithFeatureSampling("all"), ml.WithRandomState(1))
	require.NoError(t, forest.Fit(ctx, m.Rows, labels))

	data, err := (&model.Artifact{Preprocessor: p, Classifier: forest}).Encode()
	require.NoError(t, err)
	require.NoError(t, h.objects.Put(ctx, h.cfg.Evaluation.ModelKey, data))
	return data
}

func TestRun_RejectedModelIsNotPushed(t *testing.T) {
	h := newHarness(t, synthetic.Records(400, 0.3, 3))
	deployed := deployPerfect(t, h)

	result, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, result.Evaluation.BestF1)
	assert.Equal(t, 1.0, *result.Evaluation.BestF1)
	assert.False(t, result.Evaluation.Accepted)
	assert.False(t, result.Pushed())

	lookup, err := h.objects.Fetch(context.Background(), h.cfg.Evaluation.ModelKey)
	require.NoError(t, err)
	assert.Equal(t, deployed, lookup.Object)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.runs.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.modelF1.WithLabelValues("deployed")))
}
