// Package node adapts the teacher's cluster.Node / topology.Ring
// pattern into a name-addressed registry plus a best-effort,
// in-memory point-to-point transport. Real sockets are out of
// spec.md's scope; Network is the seam a future TCP-backed Link could
// replace without touching consensus, replica, or client.
package node

import (
	"fmt"
	"sort"
	"sync"

	logging "github.com/op/go-logging"

	"github.com/bdeggleston/stockpaxos/wire"
)

var log = logging.MustGetLogger("node")

// Handler processes one inbound message addressed to a registered
// name. Implementations must be safe to invoke concurrently; the
// network delivers each send on its own goroutine, matching
// spec.md section 5's "asynchronous message send" requirement.
type Handler func(from string, m wire.Message)

// Network is a shared in-memory registry of named participants
// (replicas, consensus modules, client backends) together with a
// fair-loss, duplicate/out-of-order tolerant transport between them,
// modeled on the teacher's cluster.Node status tracking and
// topology.DatacenterContainer registry-of-nodes shape.
type Network struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	up       map[string]bool
}

// NewNetwork returns an empty, healthy network.
func NewNetwork() *Network {
	return &Network{
		handlers: make(map[string]Handler),
		up:       make(map[string]bool),
	}
}

// Register binds name to h. A name may only be registered once.
func (n *Network) Register(name string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[name] = h
	n.up[name] = true
}

// Unregister removes name, simulating a permanent crash: further
// sends to it are silently dropped, matching spec.md's "messages from
// a crashed sender may be lost" transport assumption.
func (n *Network) Unregister(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, name)
	delete(n.up, name)
}

// Names returns every currently registered name, sorted so that
// callers needing a deterministic total order (client leader
// election's rank rule) get one for free.
func (n *Network) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.handlers))
	for name := range n.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send encodes m and delivers it to to's handler on its own goroutine.
// Delivery to an unknown or unregistered recipient is a silent no-op,
// matching the transport's best-effort contract (spec.md section 6).
func (n *Network) Send(from, to string, m wire.Message) error {
	encoded, err := wire.Encode(m)
	if err != nil {
		return fmt.Errorf("node: encode to %v: %w", to, err)
	}

	n.mu.RLock()
	h, ok := n.handlers[to]
	n.mu.RUnlock()
	if !ok {
		log.Debugf("dropping message to unregistered peer %v", to)
		return nil
	}

	go func() {
		decoded, err := wire.Decode(encoded)
		if err != nil {
			log.Warningf("dropping undecodable message from %v to %v: %v", from, to, err)
			return
		}
		h(from, decoded)
	}()
	return nil
}

// Broadcast sends m to every name in to except from itself, mirroring
// the "broadcast prepare/accept/decide to all participants" steps in
// spec.md section 4.1.
func (n *Network) Broadcast(from string, to []string, m wire.Message) {
	for _, peer := range to {
		if peer == from {
			continue
		}
		if err := n.Send(from, peer, m); err != nil {
			log.Warningf("broadcast from %v to %v failed: %v", from, peer, err)
		}
	}
}
