package push

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/willbeason/insurance-eligibility/pkg/artifact"
	"github.com/willbeason/insurance-eligibility/pkg/model"
	"github.com/willbeason/insurance-eligibility/pkg/objstore"
)

func TestPush_Idempotent(t *testing.T) {
	ctx := context.Background()
	store, err := objstore.NewDir(t.TempDir(), "models")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "model.gob")
	data := []byte("encoded model artifact")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	pusher := NewPusher(store, zap.NewNop())
	first, err := pusher.Push(ctx, path, "model.gob")
	require.NoError(t, err)
	second, err := pusher.Push(ctx, path, "model.gob")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, artifact.Pusher{
		Bucket: "models",
		Key:    "model.gob",
		Size:   int64(len(data)),
		Digest: model.Digest(data),
	}, first)

	lookup, err := store.Fetch(ctx, "model.gob")
	require.NoError(t, err)
	assert.True(t, lookup.Found)
	assert.Equal(t, data, lookup.Object)
}

func TestRun_RequiresAcceptance(t *testing.T) {
	store, err := objstore.NewDir(t.TempDir(), "models")
	require.NoError(t, err)

	_, err = NewPusher(store, zap.NewNop()).Run(context.Background(), artifact.Evaluation{ModelPath: "x", ModelKey: "y"})
	assert.ErrorIs(t, err, ErrPush)

	lookup, err := store.Fetch(context.Background(), "y")
	require.NoError(t, err)
	assert.False(t, lookup.Found)
}

func TestPush_MissingFile(t *testing.T) {
	store, err := objstore.NewDir(t.TempDir(), "models")
	require.NoError(t, err)

	_, err = NewPusher(store, zap.NewNop()).Push(context.Background(), filepath.Join(t.TempDir(), "absent"), "k")
	assert.ErrorIs(t, err, ErrPush)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
