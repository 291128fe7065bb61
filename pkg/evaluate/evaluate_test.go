package evaluate

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/config"
	"github.com/willbeason/insurance-eligibility/pkg/docstore"
	"github.com/willbeason/insurance-eligibility/pkg/features"
	"github.com/willbeason/insurance-eligibility/pkg/ingest"
	"github.com/willbeason/insurance-eligibility/pkg/ml"
	"github.com/willbeason/insurance-eligibility/pkg/model"
	"github.com/willbeason/insurance-eligibility/pkg/objstore"
	"github.com/willbeason/insurance-eligibility/pkg/schema"
	"github.com/willbeason/insurance-eligibility/pkg/synthetic"
	"github.com/willbeason/insurance-eligibility/pkg/tables"
)

const key = "model.gob"

type fixture struct {
	layout    artifact.Layout
	ingestion artifact.Ingestion
	transform *features.Transform
	store     *objstore.Dir
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	sch, err := schema.Default()
	require.NoError(t, err)

	docs := docstore.NewMemory()
	_, err = docs.InsertAll(ctx, "customers", synthetic.Records(200, 0.3, 5))
	require.NoError(t, err)
	frame, err := ingest.NewLoader(docs, sch, config.Ingestion{DropColumns: []string{"id"}}, zap.NewNop()).
		Load(ctx, "customers")
	require.NoError(t, err)

	layout := artifact.Layout{Root: t.TempDir()}
	ingestion := artifact.Ingestion{TestPath: layout.TestCSV()}
	require.NoError(t, artifact.Prepare(ingestion.TestPath))
	require.NoError(t, tables.WriteCSV(ingestion.TestPath, frame))

	store, err := objstore.NewDir(t.TempDir(), "models")
	require.NoError(t, err)

	return fixture{layout: layout, ingestion: ingestion, transform: features.BuildPipeline(sch), store: store}
}

// deploy trains a model on the fixture's test partition and stores it. With
// invert, the model learns the opposite labels.
func (f fixture) deploy(t *testing.T, invert bool) {
	t.Helper()
	encoded, labels, err := f.transform.Prepare(f.ingestion.TestPath)
	require.NoError(t, err)
	if invert {
		for i := range labels {
			labels[i] = 1 - labels[i]
		}
	}

	p, err := features.Fit(encoded, f.transform.Schema().Scaling)
	require.NoError(t, err)
	m, err := p.Transform(encoded)
	require.NoError(t, err)
	forest := ml.NewForest(ml.WithEstimators(5), ml.WithRandomState(1), ml.WithFeatureSampling("all"))
	require.NoError(t, forest.Fit(context.Background(), m.Rows, labels))

	data, err := (&model.Artifact{Preprocessor: p, Classifier: forest}).Encode()
	require.NoError(t, err)
	require.NoError(t, f.store.Put(context.Background(), key, data))
}

func (f fixture) run(t *testing.T, trainedF1 float64) artifact.Evaluation {
	t.Helper()
	result, err := NewEvaluator(f.store, f.transform, key, f.layout, zap.NewNop()).Run(
		context.Background(),
		f.ingestion,
		artifact.Trainer{ModelPath: "trained/model.gob", Metrics: artifact.Metrics{F1: trainedF1}},
	)
	require.NoError(t, err)
	return result
}

func TestEvaluator_NoIncumbent(t *testing.T) {
	f := newFixture(t)

	result := f.run(t, 0.4)

	assert.Nil(t, result.BestF1)
	assert.True(t, result.Accepted)
	assert.Equal(t, 0.4, result.Difference)
	assert.Equal(t, "trained/model.gob", result.ModelPath)

	data, err := os.ReadFile(f.layout.EvaluationReport())
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Nil(t, report["best_model_f1_score"])
	assert.Equal(t, true, report["is_model_accepted"])
	assert.Equal(t, 0.4, report["trained_model_f1_score"])
}

func TestEvaluator_NoIncumbentZeroF1(t *testing.T) {
	f := newFixture(t)

	result := f.run(t, 0)

	assert.False(t, result.Accepted)
}

func TestEvaluator_BetterIncumbent(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, false)

	result := f.run(t, 0.2)

	require.NotNil(t, result.BestF1)
	assert.Greater(t, *result.BestF1, 0.9)
	assert.False(t, result.Accepted)
	assert.InDelta(t, 0.2-*result.BestF1, result.Difference, 1e-12)
}

func TestEvaluator_WorseIncumbent(t *testing.T) {
	f := newFixture(t)
	f.deploy(t, true)

	result := f.run(t, 0.5)

	require.NotNil(t, result.BestF1)
	assert.Less(t, *result.BestF1, 0.1)
	assert.True(t, result.Accepted)
}

func TestEvaluator_CorruptIncumbent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(context.Background(), key, []byte("corrupt")))

	_, err := NewEvaluator(f.store, f.transform, key, f.layout, zap.NewNop()).
		Run(context.Background(), f.ingestion, artifact.Trainer{})
	assert.ErrorIs(t, err, ErrEvaluation)
	assert.ErrorIs(t, err, model.ErrArtifactFormat)
}

func TestDecide(t *testing.T) {
	best := 0.7

	tests := []struct {
		name     string
		trained  float64
		best     *float64
		accepted bool
	}{
		{"better", 0.8, &best, true},
		{"tie", 0.7, &best, false},
		{"worse", 0.6, &best, false},
		{"no incumbent", 0.1, nil, true},
		{"no incumbent zero", 0, nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			accepted, _ := Decide(tc.trained, tc.best)
			assert.Equal(t, tc.accepted, accepted)
		})
	}
}
