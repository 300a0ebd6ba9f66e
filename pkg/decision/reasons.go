package decision

import "fmt"

// Reasons collects human-readable notes about why a decision came out the
// way it did. A nil *Reasons discards everything, so callers only pay for
// collection when they asked for it.
type Reasons struct {
	infos []string
}

// NewReasons creates an empty collector.
func NewReasons() *Reasons {
	return &Reasons{}
}

// AddInfo records one formatted reason.
func (r *Reasons) AddInfo(format string, args ...any) {
	if r == nil {
		return
	}
	r.infos = append(r.infos, fmt.Sprintf(format, args...))
}

// Items returns the collected reasons in insertion order.
func (r *Reasons) Items() []string {
	if r == nil {
		return nil
	}
	return r.infos
}
