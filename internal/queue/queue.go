// Package queue is the scheduler's FIFO of identities, unique by alias.
package queue

import (
	"container/list"
	"sync"

	"github.com/hackgods/consul-visit-booker/internal/identity"
)

// Queue keeps identities in order with an alias index. Every operation
// takes the one mutex, so an alias is never present twice.
type Queue struct {
	mu    sync.Mutex
	order *list.List
	index map[string]*list.Element
}

func New(ids ...*identity.Identity) *Queue {
	q := &Queue{order: list.New(), index: make(map[string]*list.Element)}
	for _, id := range ids {
		q.Append(id)
	}
	return q
}

// Append adds id at the tail. It reports false when the alias is already queued.
func (q *Queue) Append(id *identity.Identity) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[id.Alias]; ok {
		return false
	}
	q.index[id.Alias] = q.order.PushBack(id)
	return true
}

// PopLeft removes and returns the head.
func (q *Queue) PopLeft() (*identity.Identity, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (*identity.Identity, bool) {
	front := q.order.Front()
	if front == nil {
		return nil, false
	}
	id := q.order.Remove(front).(*identity.Identity)
	delete(q.index, id.Alias)
	return id, true
}

// Remove drops alias wherever it sits.
func (q *Queue) Remove(alias string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.index[alias]
	if !ok {
		return false
	}
	q.order.Remove(el)
	delete(q.index, alias)
	return true
}

// Update replaces the queued identity with the same alias in place, or
// appends it when absent.
func (q *Queue) Update(id *identity.Identity) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el, ok := q.index[id.Alias]; ok {
		el.Value = id
		return
	}
	q.index[id.Alias] = q.order.PushBack(id)
}

func (q *Queue) Exists(alias string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[alias]
	return ok
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

// Aliases lists the queue in order.
func (q *Queue) Aliases() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*identity.Identity).Alias)
	}
	return out
}

// Prioritize moves every identity matching hot to the front, keeping the
// relative order inside both groups.
func (q *Queue) Prioritize(hot func(*identity.Identity) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prioritizeLocked(hot)
}

func (q *Queue) prioritizeLocked(hot func(*identity.Identity) bool) {
	var mark *list.Element // last element moved to the front so far
	for el := q.order.Front(); el != nil; {
		next := el.Next()
		if hot(el.Value.(*identity.Identity)) {
			if mark == nil {
				q.order.MoveToFront(el)
			} else if el != mark.Next() {
				q.order.MoveAfter(el, mark)
			}
			mark = el
		}
		el = next
	}
}

// PopPrioritized reorders by hot and pops the head in one critical section.
func (q *Queue) PopPrioritized(hot func(*identity.Identity) bool) (*identity.Identity, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if hot != nil {
		q.prioritizeLocked(hot)
	}
	return q.popLocked()
}
