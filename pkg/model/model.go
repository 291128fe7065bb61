// Package model bundles a fitted preprocessor and classifier into the single
// artifact that is evaluated, pushed and served.
package model

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/features"
	"github.com/willbeason/insurance-eligibility/pkg/ml"
	"github.com/willbeason/insurance-eligibility/pkg/tables"
)

const (
	Format  = "insurance-eligibility/model-artifact"
	Version = 1
)

var (
	ErrIncompleteArtifact = errors.New("incomplete model artifact")
	ErrArtifactFormat     = errors.New("unrecognized model artifact")
)

// Artifact pairs the preprocessor fit during transformation with the
// classifier trained on its output.
type Artifact struct {
	Preprocessor *features.Preprocessor
	Classifier   *ml.Forest
}

// envelope is the encoded form of an Artifact.
type envelope struct {
	Format       string
	Version      int
	Preprocessor *features.Preprocessor
	Classifier   *ml.Forest
}

func (a *Artifact) complete() error {
	switch {
	case a.Preprocessor == nil || len(a.Preprocessor.Scalers) == 0:
		return fmt.Errorf("%w: no preprocessor", ErrIncompleteArtifact)
	case a.Classifier == nil || len(a.Classifier.Trees) == 0:
		return fmt.Errorf("%w: no classifier", ErrIncompleteArtifact)
	case len(a.Preprocessor.Scalers) != a.Classifier.NumFeatures:
		return fmt.Errorf("%w: preprocessor has %d outputs, classifier expects %d features",
			ErrIncompleteArtifact, len(a.Preprocessor.Scalers), a.Classifier.NumFeatures)
	}
	return nil
}

// Encode returns the gzip-compressed gob encoding of a complete Artifact.
func (a *Artifact) Encode() ([]byte, error) {
	err := a.complete()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	err = gob.NewEncoder(gz).Encode(envelope{
		Format:       Format,
		Version:      Version,
		Preprocessor: a.Preprocessor,
		Classifier:   a.Classifier,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding model artifact: %w", err)
	}
	err = gz.Close()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads an encoded Artifact. It fails unless both slots decode.
func Decode(data []byte) (*Artifact, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifactFormat, err)
	}
	defer func() {
		_ = gz.Close()
	}()

	var env envelope
	err = gob.NewDecoder(gz).Decode(&env)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrArtifactFormat, err)
	}
	if env.Format != Format {
		return nil, fmt.Errorf("%w: format %q", ErrArtifactFormat, env.Format)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrArtifactFormat, env.Version, Version)
	}

	a := &Artifact{Preprocessor: env.Preprocessor, Classifier: env.Classifier}
	err = a.complete()
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Artifact) Save(path string) error {
	data, err := a.Encode()
	if err != nil {
		return err
	}
	err = artifact.Prepare(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model artifact %q: %w", path, err)
	}
	return Decode(data)
}

// Predict labels every row of an encoded Frame.
func (a *Artifact) Predict(encoded *tables.Frame) ([]float64, error) {
	m, err := a.Preprocessor.Transform(encoded)
	if err != nil {
		return nil, err
	}
	return a.Classifier.Predict(m.Rows)
}

// PredictRow labels one encoded record keyed by column name.
func (a *Artifact) PredictRow(values map[string]float64) (float64, error) {
	row, err := a.Preprocessor.TransformRow(values)
	if err != nil {
		return 0, err
	}
	labels, err := a.Classifier.Predict([][]float64{row})
	if err != nil {
		return 0, err
	}
	return labels[0], nil
}

// Digest is the hex BLAKE2b-256 digest of encoded artifact bytes.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
