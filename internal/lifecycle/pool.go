package lifecycle

// Handle is the identity of a pooled visual resource slot. The renderer maps
// handles to whatever scene objects it maintains; the core only guarantees
// that a handle stays bound to its pair from checkout until expiry, and that
// freed handles are reused before new ones are minted.
type Handle int

// HandlePool is an explicit free list of render handles. Checkout pops the
// most recently returned handle (LIFO), which keeps allocation behavior
// deterministic and cheap under the steady churn of connections appearing
// and expiring.
type HandlePool struct {
	free []Handle
	next Handle
	out  map[Handle]PairKey
}

// NewHandlePool creates an empty pool.
func NewHandlePool() *HandlePool {
	return &HandlePool{out: make(map[Handle]PairKey)}
}

// Checkout binds a handle to the key, reusing a freed handle when available.
func (p *HandlePool) Checkout(key PairKey) Handle {
	var h Handle
	if n := len(p.free); n > 0 {
		h = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		h = p.next
		p.next++
	}
	p.out[h] = key
	return h
}

// Return releases a handle back to the free list. Returning a handle that is
// not bound to key is a no-op; double returns must not corrupt the free list.
func (p *HandlePool) Return(key PairKey, h Handle) {
	bound, ok := p.out[h]
	if !ok || bound != key {
		return
	}
	delete(p.out, h)
	p.free = append(p.free, h)
}

// InUse returns the number of handles currently checked out.
func (p *HandlePool) InUse() int { return len(p.out) }

// FreeCount returns the number of handles waiting for reuse.
func (p *HandlePool) FreeCount() int { return len(p.free) }
