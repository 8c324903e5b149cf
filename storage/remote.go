package storage

import (
	"context"
	"encoding/json"

	"github.com/elertan/bronzeman-unleashed/rtdb"
)


// the store operations a port uses
// `*rtdb.Database` is the production implementation
type Remote interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Put(ctx context.Context, path string, value json.RawMessage) error
	Post(ctx context.Context, path string, value json.RawMessage) (string, error)
	Delete(ctx context.Context, path string) error
	Subscribe(pathPrefix string, handler rtdb.ChangeEventFunction) func()
}
