package bencode

// NewDict builds a dictionary Data node from plain Go values, using NewData's
// type switch to wrap each value. Convenient for building tracker responses
// without constructing map[string]*Data by hand at every call site.
func NewDict(fields map[string]any) *Data {
	wrapped := make(map[string]*Data, len(fields))
	for k, v := range fields {
		wrapped[k] = NewData(v)
	}
	return NewData(wrapped)
}

// NewList builds a list Data node from plain Go values.
func NewList(items ...any) *Data {
	wrapped := make([]*Data, len(items))
	for i, v := range items {
		wrapped[i] = NewData(v)
	}
	return NewData(wrapped)
}
