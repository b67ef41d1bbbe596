package extract

import (
	"sync"

	"github.com/nguyenngocdue/RAG-MCP/internal/model"
)

// Cache keeps extraction results keyed by doc_id so re-processing a retried
// document does not re-run the parser. Entries are dropped when the registry
// removes the document.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]model.ExtractionResult
	order      []string
}

func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 64
	}
	return &Cache{
		maxEntries: maxEntries,
		entries:    make(map[string]model.ExtractionResult),
	}
}

func (c *Cache) Get(docID string) (model.ExtractionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[docID]
	return res, ok
}

func (c *Cache) Put(docID string, res model.ExtractionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[docID]; !exists {
		c.order = append(c.order, docID)
	}
	c.entries[docID] = res

	// evict oldest entries beyond the cap
	for len(c.order) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *Cache) Invalidate(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[docID]; !exists {
		return
	}
	delete(c.entries, docID)
	for i, id := range c.order {
		if id == docID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
