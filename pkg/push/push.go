// Package push promotes an accepted model artifact to the object store.
package push

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/model"
	"github.com/willbeason/insurance-eligibility/pkg/objstore"
)

var ErrPush = errors.New("model pusher")

type Pusher struct {
	store  objstore.Store
	logger *zap.Logger
}

func NewPusher(store objstore.Store, logger *zap.Logger) *Pusher {
	return &Pusher{store: store, logger: logger}
}

// Push uploads the artifact at path to key, replacing whatever is there.
func (p *Pusher) Push(ctx context.Context, path, key string) (artifact.Pusher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return artifact.Pusher{}, fmt.Errorf("%w: reading %q: %w", ErrPush, path, err)
	}
	err = p.store.Put(ctx, key, data)
	if err != nil {
		return artifact.Pusher{}, fmt.Errorf("%w: uploading %q: %w", ErrPush, key, err)
	}

	result := artifact.Pusher{
		Bucket: p.store.Bucket(),
		Key:    key,
		Size:   int64(len(data)),
		Digest: model.Digest(data),
	}
	p.logger.Info("model pushed",
		zap.String("bucket", result.Bucket),
		zap.String("key", result.Key),
		zap.Int64("size", result.Size),
		zap.String("blake2b", result.Digest))
	return result, nil
}

// Run pushes the model of an accepted evaluation.
func (p *Pusher) Run(ctx context.Context, evaluation artifact.Evaluation) (artifact.Pusher, error) {
	if !evaluation.Accepted {
		return artifact.Pusher{}, fmt.Errorf("%w: model was not accepted", ErrPush)
	}
	return p.Push(ctx, evaluation.ModelPath, evaluation.ModelKey)
}
