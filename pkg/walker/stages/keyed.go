package stages

import (
	"slices"

	"walkpipe/pkg/walker"
)

var _ walker.Stage = (*keyedStage)(nil)

type keyedMode int

const (
	sortByKey keyedMode = iota
	maxByKey
	minByKey
	dedupByKey
)

var sortDescriptor = walker.Descriptor{
	Name: "sort",
	Tags: []string{TagGeneral},
	Doc: `Sort elements by a key expression.

Elements with equal keys keep their input order. Without a key the
element's own value is used.

Usage:
    pipe ... | sort [key]`,
	RequiresInput: true,
	Create:        keyedFactory(sortByKey),
}

var maxDescriptor = walker.Descriptor{
	Name: "max",
	Tags: []string{TagGeneral},
	Doc: `Yield the element with the largest key.

The first of several equal keys wins. Empty input yields nothing.

Usage:
    pipe ... | max [key]`,
	RequiresInput: true,
	Create:        keyedFactory(maxByKey),
}

var minDescriptor = walker.Descriptor{
	Name: "min",
	Tags: []string{TagGeneral},
	Doc: `Yield the element with the smallest key.

The first of several equal keys wins. Empty input yields nothing.

Usage:
    pipe ... | min [key]`,
	RequiresInput: true,
	Create:        keyedFactory(minByKey),
}

var dedupDescriptor = walker.Descriptor{
	Name: "dedup",
	Tags: []string{TagGeneral},
	Doc: `Drop elements whose key equals the key of the element before.

Only adjacent duplicates are removed.

Usage:
    pipe ... | dedup [key]`,
	RequiresInput: true,
	Create:        keyedFactory(dedupByKey),
}

type keyedStage struct {
	ev     walker.Evaluator
	key    walker.Template
	hasKey bool
	mode   keyedMode
}

type keyed struct {
	el  walker.Element
	key int64
}

func keyedFactory(mode keyedMode) walker.Factory {
	return func(args string, _ walker.Position, env *walker.Env) (walker.Stage, error) {
		t, ok, err := optionalTemplate(env, args)
		if err != nil {
			return nil, err
		}
		return &keyedStage{ev: env.Backend, key: t, hasKey: ok, mode: mode}, nil
	}
}

func (s *keyedStage) keyOf(el walker.Element) (int64, error) {
	if !s.hasKey {
		return int64(el.Value), nil
	}
	return signed(s.ev, s.key, &el)
}

// keys pulls the input, pairing each element with its key. fn returning
// false stops the pull.
func (s *keyedStage) keys(in walker.Seq, fn func(keyed) bool) error {
	for el, err := range walker.Input(in) {
		if err != nil {
			return err
		}
		k, err := s.keyOf(el)
		if err != nil {
			return err
		}
		if !fn(keyed{el: el, key: k}) {
			return nil
		}
	}
	return nil
}

func (s *keyedStage) Iterate(in walker.Seq) walker.Seq {
	switch s.mode {
	case dedupByKey:
		return s.dedup(in)
	case sortByKey:
		return s.sort(in)
	default:
		return s.extreme(in)
	}
}

func (s *keyedStage) dedup(in walker.Seq) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		var (
			prev     int64
			havePrev bool
			stopped  bool
		)
		err := s.keys(in, func(k keyed) bool {
			if havePrev && k.key == prev {
				return true
			}
			prev, havePrev = k.key, true
			if !yield(k.el, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(walker.Element{}, err)
		}
	}
}

func (s *keyedStage) sort(in walker.Seq) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		var all []keyed
		if err := s.keys(in, func(k keyed) bool {
			all = append(all, k)
			return true
		}); err != nil {
			yield(walker.Element{}, err)
			return
		}
		slices.SortStableFunc(all, func(a, b keyed) int {
			switch {
			case a.key < b.key:
				return -1
			case a.key > b.key:
				return 1
			}
			return 0
		})
		for _, k := range all {
			if !yield(k.el, nil) {
				return
			}
		}
	}
}

func (s *keyedStage) extreme(in walker.Seq) walker.Seq {
	return func(yield func(walker.Element, error) bool) {
		var (
			best  keyed
			found bool
		)
		if err := s.keys(in, func(k keyed) bool {
			better := k.key > best.key
			if s.mode == minByKey {
				better = k.key < best.key
			}
			if !found || better {
				best, found = k, true
			}
			return true
		}); err != nil {
			yield(walker.Element{}, err)
			return
		}
		if found {
			yield(best.el, nil)
		}
	}
}
