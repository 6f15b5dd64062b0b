package persist

// Persister saves and loads one state type through a Codec.
type Persister[T any] struct {
	codec Codec
}

// NewPersister returns a persister for T using codec.
func NewPersister[T any](codec Codec) *Persister[T] {
	return &Persister[T]{codec: codec}
}

// Save atomically replaces the file at path with state.
func (p *Persister[T]) Save(path string, state T) error {
	return SaveState(path, p.codec, &state)
}

// Load decodes the file at path.
func (p *Persister[T]) Load(path string) (T, error) {
	var state T

	err := LoadState(path, p.codec, &state)
	if err != nil {
		var zero T

		return zero, err
	}

	return state, nil
}
