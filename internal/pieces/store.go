package pieces

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store is where the cache keeps pieces. It is the capacity hook: the default
// MapStore never evicts, an LRUStore bounds the number of pieces held.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(id string) ([]byte, bool)
	Add(id string, data []byte)
	Len() int
}

type MapStore struct {
	mu     sync.RWMutex
	pieces map[string][]byte
}

func NewMapStore() *MapStore {
	return &MapStore{pieces: make(map[string][]byte)}
}

func (m *MapStore) Get(id string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.pieces[id]
	return data, ok
}

func (m *MapStore) Add(id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pieces[id] = data
}

func (m *MapStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pieces)
}

type LRUStore struct {
	cache *lru.Cache[string, []byte]
}

// NewLRUStore keeps at most size pieces; onEvict, if set, sees every piece
// pushed out.
func NewLRUStore(size int, onEvict func(id string, data []byte)) (*LRUStore, error) {
	c, err := lru.NewWithEvict[string, []byte](size, onEvict)
	if err != nil {
		return nil, err
	}
	return &LRUStore{cache: c}, nil
}

func (l *LRUStore) Get(id string) ([]byte, bool) {
	return l.cache.Get(id)
}

func (l *LRUStore) Add(id string, data []byte) {
	l.cache.Add(id, data)
}

func (l *LRUStore) Len() int {
	return l.cache.Len()
}
