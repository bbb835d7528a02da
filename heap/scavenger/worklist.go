package scavenger

// Worklist is a LIFO of pending items owned by one worker. It is not safe
// for concurrent use; workers hand their lists over only after they stop.
type Worklist[T any] struct {
	items []T
	// pushed counts every Push over the list's lifetime.
	pushed int
}

func (w *Worklist[T]) Push(v T) {
	w.items = append(w.items, v)
	w.pushed++
}

// Pop removes the most recently pushed item.
func (w *Worklist[T]) Pop() (T, bool) {
	var zero T
	n := len(w.items)
	if n == 0 {
		return zero, false
	}
	v := w.items[n-1]
	w.items[n-1] = zero
	w.items = w.items[:n-1]
	return v, true
}

func (w *Worklist[T]) Len() int      { return len(w.items) }
func (w *Worklist[T]) IsEmpty() bool { return len(w.items) == 0 }
func (w *Worklist[T]) Pushed() int   { return w.pushed }
