package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/config"
	"github.com/willbeason/insurance-eligibility/pkg/docstore"
	"github.com/willbeason/insurance-eligibility/pkg/schema"
	"github.com/willbeason/insurance-eligibility/pkg/synthetic"
	"github.com/willbeason/insurance-eligibility/pkg/tables"
)

const collection = "Proj1-Data"

var ingestionConfig = config.Ingestion{
	SplitRatio:    0.25,
	Seed:          42,
	DropColumns:   []string{"id"},
	MissingTokens: []string{"na"},
}

func newLoader(t *testing.T, docs []docstore.Document) *Loader {
	t.Helper()
	store := docstore.NewMemory()
	_, err := store.InsertAll(context.Background(), collection, docs)
	require.NoError(t, err)

	sch, err := schema.Default()
	require.NoError(t, err)

	return NewLoader(store, sch, ingestionConfig, zap.NewNop())
}

func TestLoad(t *testing.T) {
	docs := synthetic.Records(10, 0.3, 1)
	docs[3]["Annual_Premium"] = "na"
	docs[4]["Region_Code"] = "28"
	docs[5]["Channel_Notes"] = "phone"

	frame, err := newLoader(t, docs).Load(context.Background(), collection)
	require.NoError(t, err)

	assert.Equal(t, 10, frame.NumRows())
	assert.False(t, frame.Has("id"))
	sch, _ := schema.Default()
	assert.Equal(t, append(sch.ColumnNames(), "Channel_Notes"), frame.Names())

	premium, _ := frame.Column("Annual_Premium")
	assert.Equal(t, tables.KindNumber, premium.Kind)
	assert.True(t, premium.IsNull(3))
	assert.Equal(t, 1, premium.NullCount())

	region, _ := frame.Column("Region_Code")
	assert.Equal(t, 28.0, region.Numbers[4])

	notes, _ := frame.Column("Channel_Notes")
	assert.Equal(t, tables.KindString, notes.Kind)
	assert.Equal(t, 9, notes.NullCount())
}

func TestLoad_EmptyStringIsMissing(t *testing.T) {
	docs := synthetic.Records(5, 0.3, 2)
	docs[1]["Gender"] = ""

	frame, err := newLoader(t, docs).Load(context.Background(), collection)
	require.NoError(t, err)

	gender, ok := frame.Column("Gender")
	require.True(t, ok)
	assert.True(t, gender.IsNull(1))
	assert.Equal(t, 1, gender.NullCount())
}

func TestLoad_BadNumber(t *testing.T) {
	docs := synthetic.Records(3, 0.3, 1)
	docs[1]["Age"] = "forty"

	_, err := newLoader(t, docs).Load(context.Background(), collection)
	assert.ErrorIs(t, err, ErrIngestion)
}

type failingStore struct{}

var errUnreachable = errors.New("server selection timeout")

func (failingStore) FetchAll(context.Context, string) ([]docstore.Document, error) {
	return nil, errUnreachable
}

func TestLoad_StoreFailure(t *testing.T) {
	sch, err := schema.Default()
	require.NoError(t, err)
	loader := NewLoader(failingStore{}, sch, ingestionConfig, zap.NewNop())

	_, err = loader.Load(context.Background(), collection)
	assert.ErrorIs(t, err, ErrIngestion)
	assert.ErrorIs(t, err, errUnreachable)
}

func TestLoad_EmptyCollection(t *testing.T) {
	_, err := newLoader(t, nil).Load(context.Background(), collection)
	assert.ErrorIs(t, err, ErrIngestion)
}

func ids(t *testing.T, f *tables.Frame) []string {
	t.Helper()
	c, ok := f.Column("_id")
	require.True(t, ok)
	return c.Strings
}

func TestSplit(t *testing.T) {
	frame, err := newLoader(t, synthetic.Records(100, 0.3, 1)).Load(context.Background(), collection)
	require.NoError(t, err)

	train, test, err := Split(frame, 0.25, 42)
	require.NoError(t, err)
	assert.Equal(t, 75, train.NumRows())
	assert.Equal(t, 25, test.NumRows())

	seen := make(map[string]bool)
	for _, id := range append(ids(t, train), ids(t, test)...) {
		assert.False(t, seen[id], "row %s in both partitions", id)
		seen[id] = true
	}
	assert.Len(t, seen, 100)

	train2, test2, err := Split(frame, 0.25, 42)
	require.NoError(t, err)
	if diff := cmp.Diff(ids(t, train), ids(t, train2)); diff != "" {
		t.Errorf("same seed gave different train partitions (-first +second):\n%s", diff)
	}
	assert.Equal(t, ids(t, test), ids(t, test2))

	_, test3, err := Split(frame, 0.25, 43)
	require.NoError(t, err)
	assert.NotEqual(t, ids(t, test), ids(t, test3))
}

func TestSplit_Ratio(t *testing.T) {
	frame := tables.NewFrame()
	require.NoError(t, frame.AddNumbers("a", []float64{1, 2, 3}, nil))

	for _, ratio := range []float64{0, 1, -0.5, 1.5} {
		_, _, err := Split(frame, ratio, 1)
		assert.ErrorIs(t, err, ErrSplitRatio, "ratio %g", ratio)
	}

	train, test, err := Split(frame, 0.1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, train.NumRows())
	assert.Equal(t, 1, test.NumRows())

	_, _, err = Split(frame, 0.9, 1)
	assert.ErrorIs(t, err, ErrIngestion)
}

func TestIngestor_Run(t *testing.T) {
	layout := artifact.NewLayout(t.TempDir(), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	loader := newLoader(t, synthetic.Records(40, 0.3, 1))

	result, err := NewIngestor(loader, collection, ingestionConfig, layout, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, artifact.Ingestion{
		FeatureStorePath: layout.FeatureStore(),
		TrainPath:        layout.TrainCSV(),
		TestPath:         layout.TestCSV(),
		Rows:             40,
		TrainRows:        30,
		TestRows:         10,
	}, result)

	sch, _ := schema.Default()
	test, err := tables.ReadCSV(result.TestPath, sch.Kinds())
	require.NoError(t, err)
	assert.Equal(t, 10, test.NumRows())
	assert.Equal(t, sch.ColumnNames(), test.Names())

	snapshot, err := tables.ReadCSV(filepath.Clean(result.FeatureStorePath), sch.Kinds())
	require.NoError(t, err)
	assert.Equal(t, 40, snapshot.NumRows())
}
