package p2p

import (
	"github.com/luxfi/log"

	"github.com/luxfi/federation/internal/federrors"
	"github.com/luxfi/federation/internal/ringid"
	"github.com/luxfi/federation/internal/routingtable"
)

// Handler processes one Envelope already routed to a given actor. A filter
// may return false to decline the message so the next registered handler
// gets a chance (spec §4.3 step 4: "apply registered filters in insertion
// order and deliver to the first matching handler").
type Handler interface {
	Filter(Envelope) bool
	Handle(Envelope) error
}

// Dispatcher is the point-to-point demux (component C). It owns no
// transport; the caller feeds it Envelopes received off the wire and
// Dispatcher does steps 1-4 of spec §4.3.
type Dispatcher struct {
	log    log.Logger
	self   ringid.NodeInstance
	table  *routingtable.Table
	actors map[Actor][]Handler
	Requests *RequestTable
}

func NewDispatcher(self ringid.NodeInstance, table *routingtable.Table, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		log:      logger,
		self:     self,
		table:    table,
		actors:   make(map[Actor][]Handler),
		Requests: NewRequestTable(),
	}
}

// Register installs a handler for actor, appended after any existing
// handlers (insertion order matters for filter precedence).
func (d *Dispatcher) Register(actor Actor, h Handler) {
	d.actors[actor] = append(d.actors[actor], h)
}

// Dispatch performs the four receipt steps of spec §4.3.
func (d *Dispatcher) Dispatch(env Envelope) error {
	h := env.Header

	// Step 1: addressed-to mismatch.
	if !h.To.Id.Equal(d.self.Id) {
		return federrors.New(federrors.P2PNodeDoesNotMatchFault)
	}
	// Step 2: exact-instance mismatch.
	if h.ExactInstance && h.To.InstanceId != d.self.InstanceId {
		return federrors.New(federrors.P2PNodeDoesNotMatchFault)
	}

	// Step 3: lookup/create the PartnerNode for from, update last_accessed.
	if d.table != nil {
		d.table.Upsert(routingtable.PartnerNode{
			Instance: h.From,
			RingName: h.FromRing,
			Phase:    routingtable.Unknown,
		})
	}

	// Step 4: dispatch to the actor table via registered filters.
	handlers, ok := d.actors[h.Actor]
	if !ok || len(handlers) == 0 {
		return federrors.New(federrors.EndpointNotFound)
	}
	for _, handler := range handlers {
		if handler.Filter(env) {
			return handler.Handle(env)
		}
	}
	return federrors.New(federrors.EndpointNotFound)
}

// HandlerFunc adapts two functions into a Handler.
type HandlerFunc struct {
	FilterFn func(Envelope) bool
	HandleFn func(Envelope) error
}

func (f HandlerFunc) Filter(e Envelope) bool { return f.FilterFn(e) }
func (f HandlerFunc) Handle(e Envelope) error { return f.HandleFn(e) }

// AcceptAll is a Filter that matches every Envelope, for actors with a
// single handler.
func AcceptAll(Envelope) bool { return true }
