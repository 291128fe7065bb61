// Package artifact defines the records each pipeline stage hands to the next,
// and where in a run directory each stage writes its files.
package artifact

import (
	"os"
	"path/filepath"
	"time"
)

// TimestampFormat names run directories, as in 10_19_2026_14_03_59.
const TimestampFormat = "01_02_2006_15_04_05"

// Layout locates the files of one pipeline run.
type Layout struct {
	Root string
}

func NewLayout(artifactDir string, started time.Time) Layout {
	return Layout{Root: filepath.Join(artifactDir, started.Format(TimestampFormat))}
}

func (l Layout) path(parts ...string) string {
	return filepath.Join(append([]string{l.Root}, parts...)...)
}

func (l Layout) FeatureStore() string {
	return l.path("data_ingestion", "feature_store", "data.csv")
}

func (l Layout) TrainCSV() string {
	return l.path("data_ingestion", "ingested", "train.csv")
}

func (l Layout) TestCSV() string {
	return l.path("data_ingestion", "ingested", "test.csv")
}

func (l Layout) ValidationReport() string {
	return l.path("data_validation", "report.json")
}

func (l Layout) TrainMatrix() string {
	return l.path("data_transformation", "transformed", "train.parquet")
}

func (l Layout) TestMatrix() string {
	return l.path("data_transformation", "transformed", "test.parquet")
}

func (l Layout) Preprocessor() string {
	return l.path("data_transformation", "transformed_object", "preprocessing.gob")
}

func (l Layout) Model() string {
	return l.path("model_trainer", "trained_model", "model.gob")
}

func (l Layout) EvaluationReport() string {
	return l.path("model_evaluation", "report.json")
}

// Prepare creates the parent directories of the given files.
func Prepare(paths ...string) error {
	for _, path := range paths {
		err := os.MkdirAll(filepath.Dir(path), os.ModePerm)
		if err != nil {
			return err
		}
	}
	return nil
}

type Ingestion struct {
	FeatureStorePath string
	TrainPath        string
	TestPath         string
	Rows             int
	TrainRows        int
	TestRows         int
}

type Validation struct {
	Passed     bool
	Message    string
	ReportPath string
}

type Transformation struct {
	PreprocessorPath string
	TrainPath        string
	TestPath         string
	// Columns of both matrices, label last.
	Columns   []string
	TrainRows int
	TestRows  int
}

// Metrics are classification scores for the positive class.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	F1        float64 `json:"f1_score"`
	Precision float64 `json:"precision_score"`
	Recall    float64 `json:"recall_score"`
}

type Trainer struct {
	ModelPath     string
	TrainAccuracy float64
	// Metrics on the transformed test matrix.
	Metrics Metrics
}

// Evaluation is the promotion decision for a trained model.
type Evaluation struct {
	TrainedF1 float64  `json:"trained_model_f1_score"`
	BestF1    *float64 `json:"best_model_f1_score"`
	Accepted  bool     `json:"is_model_accepted"`
	// Difference is TrainedF1 minus BestF1, or minus zero without a deployed model.
	Difference float64 `json:"difference"`

	ModelPath  string `json:"trained_model_path"`
	ModelKey   string `json:"model_key"`
	ReportPath string `json:"-"`
}

type Pusher struct {
	Bucket string
	Key    string
	Size   int64
	Digest string
}
