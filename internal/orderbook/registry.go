package orderbook

import (
	"sort"
	"sync"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

// Registry holds one book per market. Books of independent markets can be
// used concurrently.
type Registry struct {
	mu    sync.RWMutex
	books map[model.MarketKey]*Book
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{books: make(map[model.MarketKey]*Book)}
}

// Book returns the book for key, creating it on first use.
func (r *Registry) Book(key model.MarketKey) *Book {
	r.mu.RLock()
	b, ok := r.books[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.books[key]; ok {
		return b
	}
	b = NewBook(key)
	r.books[key] = b
	return b
}

// Lookup returns the book for key if it exists.
func (r *Registry) Lookup(key model.MarketKey) (*Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[key]
	return b, ok
}

// Books returns all books ordered by market key.
func (r *Registry) Books() []*Book {
	r.mu.RLock()
	books := make([]*Book, 0, len(r.books))
	for _, b := range r.books {
		books = append(books, b)
	}
	r.mu.RUnlock()

	sort.Slice(books, func(i, j int) bool {
		return books[i].key.String() < books[j].key.String()
	})
	return books
}
