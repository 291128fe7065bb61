package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	started := time.Date(2026, 10, 19, 14, 3, 59, 0, time.UTC)
	l := NewLayout("artifact", started)

	assert.Equal(t, filepath.Join("artifact", "10_19_2026_14_03_59"), l.Root)
	assert.Equal(t, filepath.Join(l.Root, "data_ingestion", "feature_store", "data.csv"), l.FeatureStore())
	assert.Equal(t, filepath.Join(l.Root, "data_ingestion", "ingested", "train.csv"), l.TrainCSV())
	assert.Equal(t, filepath.Join(l.Root, "data_transformation", "transformed_object", "preprocessing.gob"), l.Preprocessor())
	assert.Equal(t, filepath.Join(l.Root, "model_trainer", "trained_model", "model.gob"), l.Model())
}

func TestPrepare(t *testing.T) {
	l := Layout{Root: t.TempDir()}

	require.NoError(t, Prepare(l.TrainCSV(), l.TestCSV(), l.Model()))

	for _, dir := range []string{filepath.Dir(l.TrainCSV()), filepath.Dir(l.Model())} {
		stat, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, stat.IsDir())
	}
}
