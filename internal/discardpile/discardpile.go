// Package discardpile implements the bounded FIFO of recently-played local
// song keys used to suppress near-term repeats during random fallback.
package discardpile

// DiscardPile is an ordered set of song paths. It is guarded by the
// Scheduler's lock, not its own; it has no internal synchronization.
type DiscardPile struct {
	order []string
	set   map[string]struct{}
}

// New returns an empty DiscardPile.
func New() *DiscardPile {
	return &DiscardPile{
		set: make(map[string]struct{}),
	}
}

// Contains reports whether path is currently in the pile.
func (d *DiscardPile) Contains(path string) bool {
	_, ok := d.set[path]
	return ok
}

// Len returns the number of entries currently held.
func (d *DiscardPile) Len() int {
	return len(d.order)
}

// Paths returns the pile's contents in FIFO order (oldest first). The
// returned slice is a copy and safe to retain.
func (d *DiscardPile) Paths() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Append adds path to the back of the pile if it is not already present.
func (d *DiscardPile) Append(path string) {
	if d.Contains(path) {
		return
	}
	d.order = append(d.order, path)
	d.set[path] = struct{}{}
}

// TrimTo evicts from the front until the pile holds at most m entries.
// A negative m is treated as "no limit".
func (d *DiscardPile) TrimTo(m int) {
	if m < 0 {
		return
	}
	for len(d.order) > m {
		evicted := d.order[0]
		d.order = d.order[1:]
		delete(d.set, evicted)
	}
}

// PurgeMissing drops any entry whose path is not present in valid, e.g.
// because the song was removed from the library.
func (d *DiscardPile) PurgeMissing(valid map[string]struct{}) {
	kept := d.order[:0:0]
	for _, path := range d.order {
		if _, ok := valid[path]; ok {
			kept = append(kept, path)
		} else {
			delete(d.set, path)
		}
	}
	d.order = kept
}

// Clear empties the pile, used when the effective capacity drops to 0.
func (d *DiscardPile) Clear() {
	d.order = nil
	d.set = make(map[string]struct{})
}
