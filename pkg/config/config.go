// Package config holds the typed configuration of every pipeline stage and the
// prediction server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const EnvPrefix = "ELIGIBILITY"

var ErrConfig = errors.New("invalid configuration")

type Config struct {
	// ArtifactDir is the parent of the per-run artifact directories.
	ArtifactDir string `mapstructure:"artifact_dir" validate:"required"`
	// SchemaPath is the schema declaration to use. Empty selects the built-in
	// vehicle insurance schema.
	SchemaPath string `mapstructure:"schema_path"`

	Logging        Logging        `mapstructure:"logging"`
	Telemetry      Telemetry      `mapstructure:"telemetry"`
	DocumentStore  DocumentStore  `mapstructure:"document_store"`
	ObjectStore    ObjectStore    `mapstructure:"object_store"`
	Ingestion      Ingestion      `mapstructure:"ingestion"`
	Transformation Transformation `mapstructure:"transformation"`
	Trainer        Trainer        `mapstructure:"trainer"`
	Evaluation     Evaluation     `mapstructure:"evaluation"`
	Server         Server         `mapstructure:"server"`
}

type Logging struct {
	Level    string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Encoding string `mapstructure:"encoding" validate:"oneof=json console"`
}

type Telemetry struct {
	// Trace exports stage spans to stderr.
	Trace bool `mapstructure:"trace"`
	// MetricsFile receives the run's Prometheus metrics in text format.
	MetricsFile string `mapstructure:"metrics_file"`
}

const (
	BackendMongo = "mongo"
	BackendJSONL = "jsonl"
	BackendGCS   = "gcs"
	BackendDir   = "dir"
)

type DocumentStore struct {
	Backend        string        `mapstructure:"backend" validate:"oneof=mongo jsonl"`
	URI            string        `mapstructure:"uri" validate:"required_if=Backend mongo"`
	Database       string        `mapstructure:"database" validate:"required_if=Backend mongo"`
	Collection     string        `mapstructure:"collection" validate:"required"`
	Path           string        `mapstructure:"path" validate:"required_if=Backend jsonl"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
}

type ObjectStore struct {
	Backend         string `mapstructure:"backend" validate:"oneof=gcs dir"`
	Bucket          string `mapstructure:"bucket" validate:"required"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Dir             string `mapstructure:"dir" validate:"required_if=Backend dir"`
}

type Ingestion struct {
	// SplitRatio is the fraction of rows assigned to the test partition.
	SplitRatio    float64  `mapstructure:"split_ratio" validate:"gt=0,lt=1"`
	Seed          int64    `mapstructure:"seed"`
	DropColumns   []string `mapstructure:"drop_columns"`
	MissingTokens []string `mapstructure:"missing_tokens"`
}

type Transformation struct {
	Seed int64 `mapstructure:"seed"`
	// ResampleTest applies class rebalancing to the test partition as well as
	// the training partition.
	ResampleTest   bool `mapstructure:"resample_test"`
	SmoteNeighbors int  `mapstructure:"smote_neighbors" validate:"gte=1"`
	EnnNeighbors   int  `mapstructure:"enn_neighbors" validate:"gte=1"`
}

type Trainer struct {
	ExpectedAccuracy float64 `mapstructure:"expected_accuracy" validate:"gte=0,lte=1"`
	NEstimators      int     `mapstructure:"n_estimators" validate:"gte=1"`
	MinSamplesSplit  int     `mapstructure:"min_samples_split" validate:"gte=2"`
	MinSamplesLeaf   int     `mapstructure:"min_samples_leaf" validate:"gte=1"`
	// MaxDepth of zero grows trees until the other limits stop them.
	MaxDepth    int    `mapstructure:"max_depth" validate:"gte=0"`
	Criterion   string `mapstructure:"criterion" validate:"oneof=gini entropy"`
	MaxFeatures string `mapstructure:"max_features" validate:"required"`
	RandomState int64  `mapstructure:"random_state"`
}

type Evaluation struct {
	// ModelKey is the object store key of the deployed model.
	ModelKey string `mapstructure:"model_key" validate:"required"`
}

type Server struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	BasePath string `mapstructure:"base_path" validate:"required,startswith=/"`
	// ModelFile serves a local model artifact instead of the deployed one.
	ModelFile string `mapstructure:"model_file"`
	Watch     bool   `mapstructure:"watch"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("artifact_dir", "artifact")
	v.SetDefault("schema_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "json")

	v.SetDefault("telemetry.trace", false)
	v.SetDefault("telemetry.metrics_file", "")

	v.SetDefault("document_store.backend", BackendMongo)
	v.SetDefault("document_store.uri", "mongodb://localhost:27017")
	v.SetDefault("document_store.database", "Proj1")
	v.SetDefault("document_store.collection", "Proj1-Data")
	v.SetDefault("document_store.path", "")
	v.SetDefault("document_store.connect_timeout", 30*time.Second)

	v.SetDefault("object_store.backend", BackendGCS)
	v.SetDefault("object_store.bucket", "vehicle-insurance-models")
	v.SetDefault("object_store.credentials_file", "")
	v.SetDefault("object_store.dir", "")

	v.SetDefault("ingestion.split_ratio", 0.25)
	v.SetDefault("ingestion.seed", 42)
	v.SetDefault("ingestion.drop_columns", []string{"id"})
	v.SetDefault("ingestion.missing_tokens", []string{"na"})

	v.SetDefault("transformation.seed", 42)
	v.SetDefault("transformation.resample_test", true)
	v.SetDefault("transformation.smote_neighbors", 5)
	v.SetDefault("transformation.enn_neighbors", 3)

	v.SetDefault("trainer.expected_accuracy", 0.6)
	v.SetDefault("trainer.n_estimators", 200)
	v.SetDefault("trainer.min_samples_split", 7)
	v.SetDefault("trainer.min_samples_leaf", 6)
	v.SetDefault("trainer.max_depth", 10)
	v.SetDefault("trainer.criterion", "entropy")
	v.SetDefault("trainer.max_features", "sqrt")
	v.SetDefault("trainer.random_state", 101)

	v.SetDefault("evaluation.model_key", "model.gob")

	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.base_path", "/Vehicle-Insurance-Eligibility-Prediction")
	v.SetDefault("server.model_file", "")
	v.SetDefault("server.watch", false)
}

// Load reads the YAML file at path, if path is non-empty, over the defaults.
// Environment variables named ELIGIBILITY_<SECTION>_<KEY> override the file,
// MONGODB_URL sets the document store URI, and overrides take precedence over
// everything. The result is validated.
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	err := v.BindEnv("document_store.uri", EnvPrefix+"_DOCUMENT_STORE_URI", "MONGODB_URL")
	if err != nil {
		return nil, fmt.Errorf("binding environment: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		err = v.ReadInConfig()
		if err != nil {
			return nil, fmt.Errorf("reading config %q: %w", path, err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	err = v.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the validated default configuration.
func Default() (*Config, error) {
	return Load("", nil)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every stage's settings.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	messages := make([]string, len(validationErrors))
	for i, fieldErr := range validationErrors {
		messages[i] = fmt.Sprintf("%s failed %q (value %v)", fieldErr.Namespace(), fieldErr.Tag(), fieldErr.Value())
	}
	return fmt.Errorf("%w: %s", ErrConfig, strings.Join(messages, "; "))
}
