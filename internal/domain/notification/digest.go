// internal/domain/notification/digest.go
package notification

// TypeGroup holds one recipient's pending events of a single type.
type TypeGroup struct {
	Type   TypeName
	Events []*Event
}

// Digest is everything one recipient is about to receive, grouped by type.
type Digest struct {
	Address string
	Groups  []TypeGroup
}

// EventIDs lists the ids of every event in the digest in group order.
func (d *Digest) EventIDs() []int64 {
	var ids []int64
	for _, g := range d.Groups {
		for _, e := range g.Events {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func (d *Digest) EventCount() int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.Events)
	}
	return n
}

// RenderedDigest is a digest ready for a sender.
type RenderedDigest struct {
	Subject string
	Body    string
	Payload []byte // JSON document describing the digest
}
