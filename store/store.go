// Package store persists the best claim received for each inbound channel so
// a previously verified claim survives a crash or restart. The layout is one
// opaque serialized record per channel id.
package store

import (
	"context"
	"errors"
	"fmt"

	ds "github.com/ipfs/go-datastore"
)

// Store is the key-value collaborator the channel client persists claims to.
type Store interface {
	// Get returns the record for a channel id, or (nil, nil) when absent.
	Get(ctx context.Context, channelID string) ([]byte, error)
	// Put stores the record for a channel id, replacing any previous record.
	Put(ctx context.Context, channelID string, record []byte) error
}

// claimPrefix namespaces claim records within a shared datastore.
var claimPrefix = ds.NewKey("/claims")

// ChannelStore is a Store backed by an ipfs datastore.
type ChannelStore struct {
	ds ds.Datastore
}

// NewChannelStore wraps a datastore. Wrap with dssync.MutexWrap if the
// underlying datastore is not safe for concurrent use.
func NewChannelStore(d ds.Datastore) *ChannelStore {
	return &ChannelStore{ds: d}
}

func (s *ChannelStore) key(channelID string) ds.Key {
	return claimPrefix.ChildString(channelID)
}

func (s *ChannelStore) Get(ctx context.Context, channelID string) ([]byte, error) {
	v, err := s.ds.Get(ctx, s.key(channelID))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting claim for channel %s: %w", channelID, err)
	}
	return v, nil
}

func (s *ChannelStore) Put(ctx context.Context, channelID string, record []byte) error {
	if err := s.ds.Put(ctx, s.key(channelID), record); err != nil {
		return fmt.Errorf("putting claim for channel %s: %w", channelID, err)
	}
	return nil
}
