package console

import "fmt"

// Registry owns the fixed set of virtual consoles configured for a guest
// (MAXCONSOLE), acting as the process-wide singleton §9 describes — an
// owned instance passed by reference through the application context
// rather than a package-level global.
type Registry struct {
	consoles []*Console
}

// NewRegistry creates count consoles, numbered 0..count-1.
func NewRegistry(count int) *Registry {
	r := &Registry{consoles: make([]*Console, count)}
	for i := range r.consoles {
		r.consoles[i] = New(i)
	}
	return r
}

// Count returns the number of configured consoles.
func (r *Registry) Count() int { return len(r.consoles) }

// Get returns console idx, or an error if out of range.
func (r *Registry) Get(idx int) (*Console, error) {
	if idx < 0 || idx >= len(r.consoles) {
		return nil, fmt.Errorf("console: index %d out of range [0,%d)", idx, len(r.consoles))
	}
	return r.consoles[idx], nil
}

// FirstFree returns the first console not currently attached to a host
// session, for a new SSH shell session to claim.
func (r *Registry) FirstFree() (*Console, bool) {
	for _, c := range r.consoles {
		if !c.Connected() {
			return c, true
		}
	}
	return nil, false
}
