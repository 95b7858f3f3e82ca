package textures

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps textures in a map. Used in tests and when no object
// storage is configured.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	baseURL string
}

func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "http://textures.invalid"
	}
	return &MemoryStore{
		objects: make(map[string][]byte),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (m *MemoryStore) Put(_ context.Context, kind Kind, _ uuid.UUID, data []byte) (string, error) {
	data, err := validate(kind, data)
	if err != nil {
		return "", err
	}
	key := objectKey(kind, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return key, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) URL(key string) string {
	return m.baseURL + "/" + key
}

// Object returns the stored bytes, for tests.
func (m *MemoryStore) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}
