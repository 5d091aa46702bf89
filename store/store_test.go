package store

import (
	"context"
	"testing"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelStore_PutGet(t *testing.T) {
	s := NewChannelStore(dssync.MutexWrap(ds.NewMapDatastore()))
	ctx := context.Background()

	got, err := s.Get(ctx, "ABCD")
	require.NoError(t, err)
	assert.Nil(t, got)

	record := []byte(`{"amount":"100","signature":"AB"}`)
	require.NoError(t, s.Put(ctx, "ABCD", record))

	got, err = s.Get(ctx, "ABCD")
	require.NoError(t, err)
	assert.Equal(t, record, got)

	// Records are per channel id.
	got, err = s.Get(ctx, "EF01")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChannelStore_PutReplaces(t *testing.T) {
	s := NewChannelStore(dssync.MutexWrap(ds.NewMapDatastore()))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "ABCD", []byte(`{"amount":"100","signature":"AB"}`)))
	require.NoError(t, s.Put(ctx, "ABCD", []byte(`{"amount":"200","signature":"CD"}`)))

	got, err := s.Get(ctx, "ABCD")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"amount":"200","signature":"CD"}`), got)
}
