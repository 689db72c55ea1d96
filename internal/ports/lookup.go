package ports

// Lookup is the result of a registry query that may legitimately find
// nothing. Absence is a value, not an error; errors are reserved for
// infrastructure failures.
type Lookup[T any] struct {
	value T
	found bool
}

func Found[T any](v T) Lookup[T] { return Lookup[T]{value: v, found: true} }

func NotFound[T any]() Lookup[T] { return Lookup[T]{} }

func (l Lookup[T]) Get() (T, bool) { return l.value, l.found }

func (l Lookup[T]) OK() bool { return l.found }
