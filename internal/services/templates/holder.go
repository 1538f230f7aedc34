package templates

import "sync/atomic"

// Holder serves lookups from the most recently stored registry, so templates
// can be reloaded while emails are being processed.
type Holder struct {
	current atomic.Pointer[Registry]
}

func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	h.Store(r)
	return h
}

func (h *Holder) Store(r *Registry) {
	if r == nil {
		r = NewRegistry(nil)
	}
	h.current.Store(r)
}

func (h *Holder) Registry() *Registry {
	return h.current.Load()
}

func (h *Holder) Lookup(from string) (*Template, bool) {
	return h.current.Load().Lookup(from)
}
