// Package transporttest is an in-memory fake of internal/transport in which
// two "processes" exchange bytes through a shared Network. Grounded on
// the teacher's hand-written *mock sub-package convention
// (validatorsmock, uptimemock) rather than a generated mock.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/luxfi/federation/internal/transport"
)

// Network is a shared in-memory switch; every node registers its address
// and receives a Target handle per peer through it.
type Network struct {
	mu       sync.Mutex
	handlers map[string]func(ctx context.Context, body []byte) []byte
	faultFns map[string]func(address string)
	partitioned map[string]map[string]bool
}

func NewNetwork() *Network {
	return &Network{
		handlers:    make(map[string]func(context.Context, []byte) []byte),
		faultFns:    make(map[string]func(string)),
		partitioned: make(map[string]map[string]bool),
	}
}

// Register installs the inbound handler for address: it receives a
// request body and returns a reply body (nil for one-way sends).
func (n *Network) Register(address string, handler func(ctx context.Context, body []byte) []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[address] = handler
}

// Partition cuts connectivity between two addresses in both directions,
// simulating a symmetric partition (spec.md scenario 5); one-way cuts are
// not modelled.
func (n *Network) Partition(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.partitioned[a] == nil {
		n.partitioned[a] = make(map[string]bool)
	}
	if n.partitioned[b] == nil {
		n.partitioned[b] = make(map[string]bool)
	}
	n.partitioned[a][b] = true
	n.partitioned[b][a] = true
}

func (n *Network) Heal(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitioned[a], b)
	delete(n.partitioned[b], a)
}

func (n *Network) connected(a, b string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.partitioned[a][b]
}

// Transport is a transport.Transport backed by Network, scoped to one
// local address (the "from" side of every send).
type Transport struct {
	net  *Network
	self string
}

func New(net *Network, self string) *Transport {
	return &Transport{net: net, self: self}
}

func (t *Transport) ResolveTarget(address string) (transport.SendTarget, error) {
	return &target{net: t.net, from: t.self, to: address}, nil
}

func (t *Transport) SetConnectionFaultHandler(fn func(address string)) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.net.faultFns[t.self] = fn
}

// NotifyFault simulates the transport detecting a dead connection to addr,
// invoking whatever fault handler the owning node installed.
func (n *Network) NotifyFault(owner, addr string) {
	n.mu.Lock()
	fn := n.faultFns[owner]
	n.mu.Unlock()
	if fn != nil {
		fn(addr)
	}
}

type target struct {
	net      *Network
	from, to string
}

func (tg *target) Address() string { return tg.to }

func (tg *target) SendOneWay(ctx context.Context, body []byte) error {
	if !tg.net.connected(tg.from, tg.to) {
		return fmt.Errorf("transporttest: %s unreachable from %s", tg.to, tg.from)
	}
	tg.net.mu.Lock()
	h := tg.net.handlers[tg.to]
	tg.net.mu.Unlock()
	if h == nil {
		return fmt.Errorf("transporttest: no handler registered for %s", tg.to)
	}
	go h(ctx, body)
	return nil
}

func (tg *target) BeginRequest(ctx context.Context, body []byte) (<-chan []byte, <-chan error) {
	replyCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	if !tg.net.connected(tg.from, tg.to) {
		errCh <- fmt.Errorf("transporttest: %s unreachable from %s", tg.to, tg.from)
		return replyCh, errCh
	}
	tg.net.mu.Lock()
	h := tg.net.handlers[tg.to]
	tg.net.mu.Unlock()
	if h == nil {
		errCh <- fmt.Errorf("transporttest: no handler registered for %s", tg.to)
		return replyCh, errCh
	}
	go func() {
		reply := h(ctx, body)
		if reply != nil {
			replyCh <- reply
		} else {
			errCh <- fmt.Errorf("transporttest: no reply from %s", tg.to)
		}
	}()
	return replyCh, errCh
}
