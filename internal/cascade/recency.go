package cascade

import (
	"fmt"
	"strings"
	"sync"

	"github.com/finback/autoclerk/internal/domain/match"
)

// recencyCap bounds the seen-before cache; oldest signatures are evicted
// first so memory stays flat under long-running processes.
const recencyCap = 1000

// recencyCache is a bounded FIFO set of subject fingerprints.
type recencyCache struct {
	mu    sync.Mutex
	cap   int
	set   map[string]struct{}
	order []string
}

func newRecencyCache(capacity int) *recencyCache {
	return &recencyCache{
		cap: capacity,
		set: make(map[string]struct{}, capacity),
	}
}

func (r *recencyCache) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[key]
	return ok
}

func (r *recencyCache) add(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.set[key]; ok {
		return
	}
	if len(r.order) >= r.cap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.set, oldest)
	}
	r.set[key] = struct{}{}
	r.order = append(r.order, key)
}

// fingerprint derives a stable signature for a subject: same counterparty,
// same amount, same normalized description → same pattern.
func fingerprint(s match.Subject) string {
	desc := strings.ToLower(strings.Join(strings.Fields(s.Description), " "))
	return fmt.Sprintf("%s|%s|%.2f|%s", s.Kind, s.Counterparty, s.Amount, desc)
}
