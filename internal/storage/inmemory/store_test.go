package inmemory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/pricepaid-importer/internal/storage"
)

func TestStore_PutGetExists(t *testing.T) {
	ctx := context.Background()
	st := NewStore("bucket")

	data := []byte("hello")
	require.NoError(t, st.Put(ctx, "a/b.json", data, storage.ContentTypeJSON))
	data[0] = 'j'

	got, err := st.Get(ctx, "a/b.json")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	ok, err := st.Exists(ctx, "a/b.json")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.Exists(ctx, "a/c.json")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = st.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_ListAndOps(t *testing.T) {
	ctx := context.Background()
	st := NewStore("bucket")

	for _, key := range []string{"p/year=2020/month=06/b", "p/year=2020/month=06/a", "p/year=2020/month=07/a"} {
		require.NoError(t, st.Put(ctx, key, nil, storage.ContentTypeText))
	}

	keys, err := st.List(ctx, "p/year=2020/month=06/")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/year=2020/month=06/a", "p/year=2020/month=06/b"}, keys)

	assert.Equal(t, []string{"p/year=2020/month=06/b", "p/year=2020/month=06/a", "p/year=2020/month=07/a"}, st.Puts())
	assert.Len(t, st.Ops(), 4)

	st.ResetOps()
	assert.Empty(t, st.Ops())
	assert.Len(t, st.Keys(), 3)
}

func TestStore_FailPut(t *testing.T) {
	ctx := context.Background()
	st := NewStore("bucket")
	boom := errors.New("disk full")
	st.FailPut = func(key string) error {
		if key == "bad" {
			return boom
		}
		return nil
	}

	assert.ErrorIs(t, st.Put(ctx, "bad", []byte("x"), storage.ContentTypeText), boom)
	require.NoError(t, st.Put(ctx, "good", []byte("x"), storage.ContentTypeText))
	assert.Equal(t, []string{"good"}, st.Keys())
}
