package memory

import (
	"testing"

	"mailport/backend/internal/storage"
	"mailport/backend/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return NewStore()
	})
}
