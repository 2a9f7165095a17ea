package frontier

// LIFOStack is a last-in first-out stack backed by a slice.
type LIFOStack[T any] []T

func NewLIFOStack[T any]() *LIFOStack[T] {
	return &LIFOStack[T]{}
}

func (s *LIFOStack[T]) Push(item T) {
	*s = append(*s, item)
}

// Pop returns false on the second value when the stack is empty.
func (s *LIFOStack[T]) Pop() (T, bool) {
	var zero T
	if len(*s) == 0 {
		return zero, false
	}
	last := len(*s) - 1
	item := (*s)[last]
	(*s)[last] = zero
	*s = (*s)[:last]
	return item, true
}

func (s *LIFOStack[T]) Size() int {
	return len(*s)
}
