// Package ingest loads a customer collection into a Frame, snapshots it and
// splits it into train and test partitions.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/config"
	"github.com/willbeason/insurance-eligibility/pkg/docstore"
	"github.com/willbeason/insurance-eligibility/pkg/profile"
	"github.com/willbeason/insurance-eligibility/pkg/schema"
	"github.com/willbeason/insurance-eligibility/pkg/tables"
)

var (
	ErrIngestion  = errors.New("data ingestion")
	ErrSplitRatio = errors.New("split ratio must be in (0, 1)")
)

type Loader struct {
	store         docstore.Store
	schema        *schema.Schema
	dropColumns   []string
	missingTokens map[string]bool
	logger        *zap.Logger
}

func NewLoader(store docstore.Store, sch *schema.Schema, cfg config.Ingestion, logger *zap.Logger) *Loader {
	tokens := make(map[string]bool, len(cfg.MissingTokens))
	for _, token := range cfg.MissingTokens {
		tokens[token] = true
	}
	return &Loader{
		store:         store,
		schema:        sch,
		dropColumns:   cfg.DropColumns,
		missingTokens: tokens,
		logger:        logger,
	}
}

// Load fetches every document of collection. The configured drop columns are
// removed, and missing-value tokens and empty strings become nulls. Declared columns take their
// kind from the schema; other columns take the kind their values suggest.
func (l *Loader) Load(ctx context.Context, collection string) (*tables.Frame, error) {
	docs, err := l.store.FetchAll(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching collection %q: %w", ErrIngestion, collection, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: collection %q is empty", ErrIngestion, collection)
	}

	present := make(map[string]bool)
	for _, doc := range docs {
		for _, name := range l.dropColumns {
			delete(doc, name)
		}
		for k, v := range doc {
			if s, ok := v.(string); ok && (s == "" || l.missingTokens[s]) {
				doc[k] = nil
			}
			present[k] = true
		}
	}

	kinds := l.schema.Kinds()
	var names []string
	for _, c := range l.schema.Columns {
		if present[c.Name] {
			names = append(names, c.Name)
		}
	}
	var undeclared []string
	for name := range present {
		if _, declared := kinds[name]; !declared {
			undeclared = append(undeclared, name)
		}
	}
	sort.Strings(undeclared)
	names = append(names, undeclared...)

	if len(undeclared) > 0 {
		l.logger.Warn("collection has undeclared columns",
			zap.String("collection", collection),
			zap.Strings("columns", undeclared))

		p := profile.New()
		for _, doc := range docs {
			values := make(docstore.Document, len(undeclared))
			for _, name := range undeclared {
				if v, ok := doc[name]; ok {
					values[name] = v
				}
			}
			err = p.Add(values)
			if err != nil {
				return nil, fmt.Errorf("%w: profiling collection %q: %w", ErrIngestion, collection, err)
			}
		}
		for _, name := range undeclared {
			kinds[name] = tables.KindString
			if field, ok := p.Fields[name]; ok {
				kinds[name] = field.Kind()
			}
		}
	}

	frame := tables.NewFrame()
	for _, name := range names {
		err = addColumn(frame, name, kinds[name], docs)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIngestion, err)
		}
	}

	l.logger.Info("loaded collection",
		zap.String("collection", collection),
		zap.Int("rows", frame.NumRows()),
		zap.Int("columns", frame.NumColumns()))
	return frame, nil
}

func addColumn(frame *tables.Frame, name string, kind tables.Kind, docs []docstore.Document) error {
	null := make([]bool, len(docs))
	switch kind {
	case tables.KindNumber:
		values := make([]float64, len(docs))
		for i, doc := range docs {
			v, isNull, err := toNumber(doc[name])
			if err != nil {
				return fmt.Errorf("column %q row %d: %w", name, i, err)
			}
			values[i], null[i] = v, isNull
		}
		return frame.AddNumbers(name, values, null)
	default:
		values := make([]string, len(docs))
		for i, doc := range docs {
			v, isNull, err := toString(doc[name])
			if err != nil {
				return fmt.Errorf("column %q row %d: %w", name, i, err)
			}
			values[i], null[i] = v, isNull
		}
		return frame.AddStrings(name, values, null)
	}
}

func toNumber(v any) (float64, bool, error) {
	switch o := v.(type) {
	case nil:
		return 0, true, nil
	case float64:
		return o, math.IsNaN(o), nil
	case bool:
		if o {
			return 1, false, nil
		}
		return 0, false, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(o), 64)
		if err != nil {
			return 0, false, fmt.Errorf("%q is not a number", o)
		}
		return f, false, nil
	default:
		return 0, false, fmt.Errorf("unsupported value of type %T", o)
	}
}

func toString(v any) (string, bool, error) {
	switch o := v.(type) {
	case nil:
		return "", true, nil
	case string:
		return o, false, nil
	case float64:
		return strconv.FormatFloat(o, 'f', -1, 64), false, nil
	case bool:
		return strconv.FormatBool(o), false, nil
	default:
		return "", false, fmt.Errorf("unsupported value of type %T", o)
	}
}

// PersistSnapshot writes frame as CSV with a header row and no index.
func PersistSnapshot(frame *tables.Frame, path string) error {
	err := artifact.Prepare(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIngestion, err)
	}
	err = tables.WriteCSV(path, frame)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIngestion, err)
	}
	return nil
}

// Split randomly partitions the rows of frame. The test partition receives
// ceil(ratio * rows) rows. The same seed and row order give the same
// partitions.
func Split(frame *tables.Frame, ratio float64, seed int64) (train, test *tables.Frame, err error) {
	if !(ratio > 0 && ratio < 1) {
		return nil, nil, fmt.Errorf("%w: %w, got %g", ErrIngestion, ErrSplitRatio, ratio)
	}

	n := frame.NumRows()
	nTest := int(math.Ceil(ratio * float64(n)))
	if nTest >= n {
		return nil, nil, fmt.Errorf("%w: %d rows leave no training rows at ratio %g", ErrIngestion, n, ratio)
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(n)

	return frame.Take(perm[nTest:]), frame.Take(perm[:nTest]), nil
}

// Ingestor runs the ingestion stage of a pipeline run.
type Ingestor struct {
	loader     *Loader
	collection string
	ratio      float64
	seed       int64
	layout     artifact.Layout
	logger     *zap.Logger
}

func NewIngestor(loader *Loader, collection string, cfg config.Ingestion, layout artifact.Layout, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		loader:     loader,
		collection: collection,
		ratio:      cfg.SplitRatio,
		seed:       cfg.Seed,
		layout:     layout,
		logger:     logger,
	}
}

func (i *Ingestor) Run(ctx context.Context) (artifact.Ingestion, error) {
	frame, err := i.loader.Load(ctx, i.collection)
	if err != nil {
		return artifact.Ingestion{}, err
	}

	featureStore := i.layout.FeatureStore()
	err = PersistSnapshot(frame, featureStore)
	if err != nil {
		return artifact.Ingestion{}, err
	}

	train, test, err := Split(frame, i.ratio, i.seed)
	if err != nil {
		return artifact.Ingestion{}, err
	}

	err = artifact.Prepare(i.layout.TrainCSV(), i.layout.TestCSV())
	if err != nil {
		return artifact.Ingestion{}, fmt.Errorf("%w: %w", ErrIngestion, err)
	}
	err = tables.WriteCSV(i.layout.TrainCSV(), train)
	if err != nil {
		return artifact.Ingestion{}, fmt.Errorf("%w: %w", ErrIngestion, err)
	}
	err = tables.WriteCSV(i.layout.TestCSV(), test)
	if err != nil {
		return artifact.Ingestion{}, fmt.Errorf("%w: %w", ErrIngestion, err)
	}

	result := artifact.Ingestion{
		FeatureStorePath: featureStore,
		TrainPath:        i.layout.TrainCSV(),
		TestPath:         i.layout.TestCSV(),
		Rows:             frame.NumRows(),
		TrainRows:        train.NumRows(),
		TestRows:         test.NumRows(),
	}
	i.logger.Info("split dataset",
		zap.Int("train_rows", result.TrainRows),
		zap.Int("test_rows", result.TestRows),
		zap.Int64("seed", i.seed))
	return result, nil
}
