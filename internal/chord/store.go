package chord

import (
	"context"
	"math/big"
)

// Store is the key-value collaborator a node serves from. Implementations
// hash keys into the node's identifier space so that ranges can be moved.
// Values are opaque to the ring.
type Store interface {
	// Read returns pkg.ErrKeyNotFound when the key is absent.
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// TransferRange returns the entries whose key identifier lies in
	// (start, end]. start == end selects the whole ring.
	TransferRange(ctx context.Context, start, end *big.Int) ([]KeyValue, error)

	// DeleteRange removes the entries in (start, end] and returns how many went.
	DeleteRange(ctx context.Context, start, end *big.Int) (int, error)

	Len(ctx context.Context) (int, error)
	Close() error
}
