package simulator

import "container/list"

// ReplacementEngine chooses which resident page of one process to evict.
// It only tracks pages of its own process and is not safe for concurrent use.
type ReplacementEngine interface {
	Algorithm() Algorithm
	// Touch records an access to a resident page (hit)
	Touch(vp int)
	// Admit records that vp became resident after a fault
	Admit(vp int)
	// Victim removes and returns the page to evict. Falls back to page 0 when empty.
	Victim() int
	// Remove forgets vp without choosing it as a victim
	Remove(vp int)
	// Resident returns tracked pages, next victim first
	Resident() []int
	Len() int
}

// NewReplacementEngine creates the engine for alg
func NewReplacementEngine(alg Algorithm) ReplacementEngine {
	switch alg {
	case AlgorithmLRU:
		return NewLRUEngine()
	default:
		return NewFIFOEngine()
	}
}

// orderedPages is a doubly linked list of pages with an index for O(1) lookup
type orderedPages struct {
	order *list.List
	index map[int]*list.Element
}

func newOrderedPages() orderedPages {
	return orderedPages{
		order: list.New(),
		index: make(map[int]*list.Element),
	}
}

func (o *orderedPages) contains(vp int) bool {
	_, ok := o.index[vp]
	return ok
}

func (o *orderedPages) pushBack(vp int) {
	o.index[vp] = o.order.PushBack(vp)
}

func (o *orderedPages) moveToBack(vp int) {
	if elem, ok := o.index[vp]; ok {
		o.order.MoveToBack(elem)
		return
	}
	o.pushBack(vp)
}

func (o *orderedPages) popFront() (int, bool) {
	elem := o.order.Front()
	if elem == nil {
		return 0, false
	}
	vp := elem.Value.(int)
	o.order.Remove(elem)
	delete(o.index, vp)
	return vp, true
}

func (o *orderedPages) remove(vp int) {
	if elem, ok := o.index[vp]; ok {
		o.order.Remove(elem)
		delete(o.index, vp)
	}
}

func (o *orderedPages) pages() []int {
	pages := make([]int, 0, o.order.Len())
	for e := o.order.Front(); e != nil; e = e.Next() {
		pages = append(pages, e.Value.(int))
	}
	return pages
}

// FIFOEngine evicts the page that became resident first.
// A page is queued only when it is not already present; hits never reorder.
type FIFOEngine struct {
	queue orderedPages
}

// NewFIFOEngine creates an empty FIFO engine
func NewFIFOEngine() *FIFOEngine {
	return &FIFOEngine{queue: newOrderedPages()}
}

func (e *FIFOEngine) Algorithm() Algorithm { return AlgorithmFIFO }
func (e *FIFOEngine) Touch(vp int)         {}
func (e *FIFOEngine) Remove(vp int)        { e.queue.remove(vp) }
func (e *FIFOEngine) Resident() []int      { return e.queue.pages() }
func (e *FIFOEngine) Len() int             { return e.queue.order.Len() }

func (e *FIFOEngine) Admit(vp int) {
	if !e.queue.contains(vp) {
		e.queue.pushBack(vp)
	}
}

func (e *FIFOEngine) Victim() int {
	vp, ok := e.queue.popFront()
	if !ok {
		return 0
	}
	return vp
}

// LRUEngine evicts the least recently used page. Every access moves the page
// to the most-recent end.
type LRUEngine struct {
	recency orderedPages
}

// NewLRUEngine creates an empty LRU engine
func NewLRUEngine() *LRUEngine {
	return &LRUEngine{recency: newOrderedPages()}
}

func (e *LRUEngine) Algorithm() Algorithm { return AlgorithmLRU }
func (e *LRUEngine) Touch(vp int)         { e.recency.moveToBack(vp) }
func (e *LRUEngine) Admit(vp int)         { e.recency.moveToBack(vp) }
func (e *LRUEngine) Remove(vp int)        { e.recency.remove(vp) }
func (e *LRUEngine) Resident() []int      { return e.recency.pages() }
func (e *LRUEngine) Len() int             { return e.recency.order.Len() }

func (e *LRUEngine) Victim() int {
	vp, ok := e.recency.popFront()
	if !ok {
		return 0
	}
	return vp
}
