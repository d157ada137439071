package walker

// Empty is the sequence handed to the first stage of a pipeline.
func Empty() Seq {
	return func(func(Element, error) bool) {}
}

// FromSlice yields each element in order.
func FromSlice(els ...Element) Seq {
	return func(yield func(Element, error) bool) {
		for _, el := range els {
			if !yield(el, nil) {
				return
			}
		}
	}
}

// Failed yields a single error.
func Failed(err error) Seq {
	return func(yield func(Element, error) bool) {
		yield(Element{}, err)
	}
}

// Collect drains seq, stopping at the first error. Elements produced before
// the error are returned alongside it.
func Collect(seq Seq) ([]Element, error) {
	var out []Element
	if seq == nil {
		return out, nil
	}
	for el, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, el)
	}
	return out, nil
}

// orEmpty guards stages against a nil input sequence.
func orEmpty(in Seq) Seq {
	if in == nil {
		return Empty()
	}
	return in
}

// Input returns in, or the empty sequence when in is nil.
func Input(in Seq) Seq { return orEmpty(in) }
