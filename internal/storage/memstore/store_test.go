package memstore_test

import (
	"testing"

	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/internal/storage/memstore"
	"github.com/relves/splitescrow/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.StateStore {
		s := memstore.New()
		t.Cleanup(func() { s.Close() })
		return s
	})
}
