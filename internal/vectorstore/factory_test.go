package vectorstore_test

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIndex_Chromem(t *testing.T) {
	cfg := config.VectorStoreConfig{
		Provider:         "chromem",
		CollectionPrefix: "test",
		Chromem:          config.ChromemConfig{Path: t.TempDir()},
	}

	idx, err := vectorstore.NewIndex(context.Background(), cfg, 8, logging.NewNop())
	require.NoError(t, err)
	defer idx.Close()

	assert.IsType(t, &vectorstore.ChromemIndex{}, idx)
	assert.Equal(t, 8, idx.Dimension())
	assert.NoError(t, idx.Ping(context.Background()))
}

func TestNewIndex_DefaultsToChromemInMemory(t *testing.T) {
	idx, err := vectorstore.NewIndex(context.Background(), config.VectorStoreConfig{}, 4, logging.NewNop())
	require.NoError(t, err)
	defer idx.Close()

	assert.IsType(t, &vectorstore.ChromemIndex{}, idx)
}

func TestNewIndex_UnsupportedProvider(t *testing.T) {
	_, err := vectorstore.NewIndex(context.Background(), config.VectorStoreConfig{Provider: "pinecone"}, 4, logging.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "pinecone")
}

func TestNewIndex_InvalidDimension(t *testing.T) {
	_, err := vectorstore.NewIndex(context.Background(), config.VectorStoreConfig{Provider: "chromem"}, 0, logging.NewNop())
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}

func TestNewIndex_InvalidPrefix(t *testing.T) {
	cfg := config.VectorStoreConfig{Provider: "chromem", CollectionPrefix: "Bad-Prefix"}
	_, err := vectorstore.NewIndex(context.Background(), cfg, 4, logging.NewNop())
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}
