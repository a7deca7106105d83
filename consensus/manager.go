// Package consensus implements the single-decree, multi-instance
// Paxos module from spec.md section 4.1: a sequence of independently
// numbered consensus instances, each deciding at most one value, with
// every participant simultaneously playing proposer, acceptor, and
// learner on demand.
//
// This replaces the teacher's (bdeggleston/kickboxerdb) EPaxos
// preaccept/accept/commit-with-dependencies algorithm with classic
// prepare/promise/accept/accepted, while keeping its actor shape:
// mutex-guarded per-instance state, lazy instance creation, and
// stat counters (the propose timeout is passed in by the caller).
package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
	logging "github.com/op/go-logging"

	"github.com/bdeggleston/stockpaxos/ballot"
	"github.com/bdeggleston/stockpaxos/node"
	"github.com/bdeggleston/stockpaxos/wire"
)

var log = logging.MustGetLogger("consensus")

// OutcomeKind classifies the result of a Propose call.
type OutcomeKind int

const (
	OutcomeDecision OutcomeKind = iota
	OutcomeAbort
	OutcomeTimeout
)

// Outcome is the result of a Propose call: spec.md's
// decision(v) | abort | timeout.
type Outcome struct {
	Kind  OutcomeKind
	Value *wire.Command
}

// Addr returns the network address this replica's collocated
// consensus module is registered under.
func Addr(replicaName string) string {
	return replicaName + "#paxos"
}

// Manager is one replica's collocated consensus module: per-instance
// state for many independent instances, driven by Propose/GetDecision
// from the local replica and by wire messages from peer managers.
type Manager struct {
	self    string // this replica's own name, e.g. "s1"
	addr    string // this manager's network address, Addr(self)
	peers   []string
	net     *node.Network
	ballots *ballot.Allocator
	stats   statsd.Statter
	n       int

	mu        sync.Mutex
	instances map[uint64]*instanceState
}

// NewManager builds the consensus module for replicaName among the
// given full participant list (every replica name, including
// replicaName itself). stats may be a statsd.NoopClient.
func NewManager(replicaName string, replicaNames []string, net *node.Network, stats statsd.Statter) *Manager {
	sorted := append([]string(nil), replicaNames...)
	sort.Strings(sorted)

	index := 0
	for i, name := range sorted {
		if name == replicaName {
			index = i
			break
		}
	}

	peers := make([]string, len(sorted))
	for i, name := range sorted {
		peers[i] = Addr(name)
	}

	m := &Manager{
		self:      replicaName,
		addr:      Addr(replicaName),
		peers:     peers,
		net:       net,
		ballots:   ballot.NewAllocator(index, len(sorted)),
		stats:     stats,
		n:         len(sorted),
		instances: make(map[uint64]*instanceState),
	}
	net.Register(m.addr, m.dispatch)
	return m
}

func (m *Manager) quorum() int { return m.n/2 + 1 }

// getOrCreate returns the instance state for inst, creating it if this
// is the first message this replica has seen about it (spec.md's
// "lazily create instance state if absent" edge case). Callers must
// hold m.mu.
func (m *Manager) getOrCreate(inst uint64) *instanceState {
	s, ok := m.instances[inst]
	if !ok {
		s = newInstanceState()
		m.instances[inst] = s
	}
	return s
}

// Propose drives spec.md section 4.1's Propose(i, v) from the local
// replica, blocking until a decision, abort, or the given timeout.
func (m *Manager) Propose(inst uint64, v *wire.Command, timeout time.Duration) Outcome {
	m.mu.Lock()
	s := m.getOrCreate(inst)
	if s.decided {
		decision := s.decision
		m.mu.Unlock()
		return Outcome{Kind: OutcomeDecision, Value: decision}
	}

	bal := m.ballots.Next()
	resultCh := s.resetForProposal(v, bal)
	m.mu.Unlock()

	m.incr("propose.started")
	log.Debugf("%v: proposing instance %v at ballot %v", m.self, inst, bal)
	m.net.Broadcast(m.addr, m.peers, &wire.Prepare{From: m.addr, Inst: inst, Bal: bal})
	// self is a participant too; deliver locally as well as to peers.
	m.net.Send(m.addr, m.addr, &wire.Prepare{From: m.addr, Inst: inst, Bal: bal})

	select {
	case o := <-resultCh:
		switch o.Kind {
		case OutcomeDecision:
			m.incr("propose.decided")
		case OutcomeAbort:
			m.incr("propose.aborted")
		}
		return o
	case <-time.After(timeout):
		m.incr("propose.timeout")
		log.Warningf("%v: propose timed out for instance %v at ballot %v", m.self, inst, bal)
		return Outcome{Kind: OutcomeTimeout}
	}
}

// GetDecision is a pure local read of spec.md's get_decision(i).
func (m *Manager) GetDecision(inst uint64) (*wire.Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.instances[inst]
	if !ok || !s.decided {
		return nil, false
	}
	return s.decision, true
}

func (m *Manager) incr(name string) {
	if m.stats == nil {
		return
	}
	_ = m.stats.Inc(name, 1, 1.0)
}

func (m *Manager) dispatch(from string, msg wire.Message) {
	switch t := msg.(type) {
	case *wire.Prepare:
		m.onPrepare(t.From, t.Inst, t.Bal)
	case *wire.Prepared:
		m.onPrepared(from, t.Inst, t.Bal, t.ABal, t.AVal)
	case *wire.Accept:
		m.onAccept(t.From, t.Inst, t.Bal, t.V)
	case *wire.Accepted:
		m.onAccepted(from, t.Inst, t.Bal)
	case *wire.Nack:
		m.onNack(from, t.Inst, t.Bal)
	case *wire.Decide:
		m.onDecide(t.Inst, t.V)
	default:
		log.Warningf("%v: unexpected message type %T from %v", m.self, msg, from)
	}
}

// onPrepare handles phase 1a: promise not to accept lower ballots.
func (m *Manager) onPrepare(from string, inst uint64, bal ballot.Number) {
	m.mu.Lock()
	s := m.getOrCreate(inst)
	if bal > s.bal {
		s.bal = bal
		aBal, aVal := s.aBal, s.aVal
		m.mu.Unlock()
		m.net.Send(m.addr, from, &wire.Prepared{Inst: inst, Bal: bal, ABal: aBal, AVal: aVal})
		return
	}
	current := s.bal
	m.mu.Unlock()
	m.net.Send(m.addr, from, &wire.Nack{Inst: inst, Bal: current})
}

// onPrepared handles phase 1b responses at the proposer.
func (m *Manager) onPrepared(from string, inst uint64, bal, aBal ballot.Number, aVal *wire.Command) {
	m.mu.Lock()
	s := m.getOrCreate(inst)
	if s.acceptSent || s.proposalBal != bal {
		m.mu.Unlock()
		return
	}

	s.preparedResponses++
	if aBal > s.prepareHighestBal {
		s.prepareHighestBal = aBal
		s.prepareHighestVal = aVal
	}

	if s.preparedResponses <= m.n/2 {
		m.mu.Unlock()
		return
	}

	var v *wire.Command
	if s.prepareHighestBal > 0 {
		v = s.prepareHighestVal
	} else {
		v = s.proposal
	}
	s.v = v
	s.acceptSent = true
	m.mu.Unlock()

	m.incr("prepare.quorum")
	log.Debugf("%v: prepare quorum reached for instance %v at ballot %v", m.self, inst, bal)
	m.net.Broadcast(m.addr, m.peers, &wire.Accept{From: m.addr, Inst: inst, Bal: bal, V: v})
	m.net.Send(m.addr, m.addr, &wire.Accept{From: m.addr, Inst: inst, Bal: bal, V: v})
}

// onAccept handles phase 2a: accept a value at a sufficiently high ballot.
func (m *Manager) onAccept(from string, inst uint64, bal ballot.Number, v *wire.Command) {
	m.mu.Lock()
	s := m.getOrCreate(inst)
	if bal >= s.bal {
		s.bal = bal
		s.aBal = bal
		s.aVal = v
		m.mu.Unlock()
		m.net.Send(m.addr, from, &wire.Accepted{Inst: inst, Bal: bal})
		return
	}
	current := s.bal
	m.mu.Unlock()
	m.net.Send(m.addr, from, &wire.Nack{Inst: inst, Bal: current})
}

// onAccepted handles phase 2b responses at the proposer.
func (m *Manager) onAccepted(from string, inst uint64, bal ballot.Number) {
	m.mu.Lock()
	s := m.getOrCreate(inst)
	if s.decided || s.proposalBal != bal {
		m.mu.Unlock()
		return
	}

	s.acceptedResponses++
	if s.acceptedResponses <= m.n/2 {
		m.mu.Unlock()
		return
	}

	s.decided = true
	s.decision = s.v
	decision := s.decision
	s.deliver(Outcome{Kind: OutcomeDecision, Value: decision})
	m.mu.Unlock()

	m.incr("accept.quorum")
	log.Infof("%v: instance %v decided at ballot %v", m.self, inst, bal)
	m.net.Broadcast(m.addr, m.peers, &wire.Decide{Inst: inst, V: decision})
	m.net.Send(m.addr, m.addr, &wire.Decide{Inst: inst, V: decision})
}

// onNack surfaces an abort to the local proposer, per spec.md's rule
// that a nack is delivered as abort even after accept_sent is true.
func (m *Manager) onNack(from string, inst uint64, bal ballot.Number) {
	m.mu.Lock()
	s := m.getOrCreate(inst)
	if s.decided {
		m.mu.Unlock()
		return
	}
	s.deliver(Outcome{Kind: OutcomeAbort})
	m.mu.Unlock()
	m.incr("nack.received")
}

// onDecide idempotently latches a learned decision and, if this
// replica also happens to be waiting on a Propose for the same
// instance, wakes it immediately instead of making it wait out the
// full accept-quorum round trip or timeout.
func (m *Manager) onDecide(inst uint64, v *wire.Command) {
	m.mu.Lock()
	s := m.getOrCreate(inst)
	if !s.decided {
		s.decided = true
		s.decision = v
	}
	decision := s.decision
	s.deliver(Outcome{Kind: OutcomeDecision, Value: decision})
	m.mu.Unlock()
}
