// Package replica implements the RSM server from spec.md section 4.2:
// it owns the deterministic application state, an instance cursor,
// and a FIFO queue of locally submitted commands, and drives the
// collocated consensus module one instance at a time.
//
// Adapted from the teacher's cluster.Cluster request-dispatch loop
// (bdeggleston/kickboxerdb) and consensus.Scope.ExecuteQuery's
// propose-then-commit-then-execute control flow, generalized from
// "only the command leader for this scope proposes" into "every
// replica proposes its own pending commands".
package replica

import (
	"sync"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
	logging "github.com/op/go-logging"

	"github.com/bdeggleston/stockpaxos/consensus"
	"github.com/bdeggleston/stockpaxos/node"
	"github.com/bdeggleston/stockpaxos/stock"
	"github.com/bdeggleston/stockpaxos/wire"
)

var log = logging.MustGetLogger("replica")

// ProposeTimeout is spec.md section 9's T1 (~5s): how long a replica
// waits for its own proposal to reach a decision before giving up on
// this attempt.
var ProposeTimeout = 5 * time.Second

type dedupKey struct {
	clientID string
	seq      uint64
}

// Replica is one node's RSM server plus its collocated consensus
// module.
type Replica struct {
	name    string
	net     *node.Network
	paxos   *consensus.Manager
	state   *stock.State
	stats   statsd.Statter

	mu          sync.Mutex
	lastApplied uint64
	pending     []*wire.Command
	applied     map[dedupKey]wire.Result

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a replica named name among the given full replica set
// (including name itself) sharing net, starts its collocated
// consensus module, and starts the processing loop goroutine.
func New(name string, replicaNames []string, net *node.Network, stats statsd.Statter) *Replica {
	r := &Replica{
		name:    name,
		net:     net,
		paxos:   consensus.NewManager(name, replicaNames, net, stats),
		state:   stock.NewState(),
		stats:   stats,
		applied: make(map[dedupKey]wire.Result),
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	net.Register(name, r.dispatch)
	go r.loop()
	return r
}

// Stop tears this replica down together with its collocated consensus
// module: both addresses stop accepting messages and the processing
// loop exits. spec.md's fate-sharing requirement is satisfied by
// construction, since the two were always reachable or unreachable as
// a unit - there's no separate "kill the consensus module but leave
// the replica up" state to model.
func (r *Replica) Stop() {
	select {
	case <-r.stopCh:
		return
	default:
	}
	close(r.stopCh)
	<-r.doneCh
	r.net.Unregister(r.name)
	r.net.Unregister(consensus.Addr(r.name))
}

// Snapshot exposes the current item table, for tests checking the
// agreement/conservation invariants across replicas.
func (r *Replica) Snapshot() map[string]uint64 {
	return r.state.Snapshot()
}

// LastApplied returns the highest instance id this replica has
// applied locally.
func (r *Replica) LastApplied() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastApplied
}

func (r *Replica) dispatch(from string, msg wire.Message) {
	switch t := msg.(type) {
	case *wire.SubmitCommand:
		r.submit(t.Cmd)
	case *wire.HeartbeatRequest:
		r.net.Send(r.name, t.Probe, &wire.HeartbeatReply{Name: r.name})
	default:
		log.Warningf("%v: unexpected message type %T from %v", r.name, msg, from)
	}
}

// submit implements spec.md's submit_command(cmd): enqueue at the tail
// of pending and wake the processing loop.
func (r *Replica) submit(cmd *wire.Command) {
	key := dedupKey{cmd.ClientID, cmd.ClientSeq}

	r.mu.Lock()
	if result, ok := r.applied[key]; ok {
		r.mu.Unlock()
		r.reply(cmd, result)
		return
	}
	r.pending = append(r.pending, cmd)
	r.mu.Unlock()

	r.incr("submit.enqueued")
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

func (r *Replica) reply(cmd *wire.Command, result wire.Result) {
	r.net.Send(r.name, cmd.ClientID, &wire.CommandReply{
		ClientID:  cmd.ClientID,
		ClientSeq: cmd.ClientSeq,
		Result:    result,
	})
}

func (r *Replica) incr(name string) {
	if r.stats == nil {
		return
	}
	_ = r.stats.Inc(name, 1, 1.0)
}

// loop is the replica's single processing loop, woken whenever a
// submit_command arrives.
func (r *Replica) loop() {
	defer close(r.doneCh)
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.wakeCh:
		}
		r.drainPending()
	}
}

// drainPending implements spec.md section 4.2's processing loop:
// while pending is non-empty, catch up on already-decided instances,
// then propose the oldest pending command.
func (r *Replica) drainPending() {
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		cmd, ok := r.frontPending()
		if !ok {
			return
		}

		r.catchUp()

		if result, ok := r.dedupLookup(cmd); ok {
			r.reply(cmd, result)
			r.popPending(cmd)
			continue
		}

		inst := r.nextInstance()
		outcome := r.paxos.Propose(inst, cmd, ProposeTimeout)
		switch outcome.Kind {
		case consensus.OutcomeDecision:
			if outcome.Value.Equal(cmd) {
				result := r.applyAndReply(inst, cmd)
				log.Debugf("%v: instance %v applied own command, result %v", r.name, inst, result.Kind)
				r.popPending(cmd)
			} else {
				r.applySilently(inst, outcome.Value)
				log.Debugf("%v: instance %v won by another client, retrying %v", r.name, inst, cmd.Kind)
				// cmd stays at the head of pending; loop retries it
				// against the next instance.
			}
		case consensus.OutcomeAbort:
			r.incr("propose.abort")
			r.reply(cmd, wire.Result{Kind: wire.ResAbort})
			r.popPending(cmd)
		case consensus.OutcomeTimeout:
			r.incr("propose.timeout")
			r.reply(cmd, wire.Result{Kind: wire.ResTimeout})
			r.popPending(cmd)
		}
	}
}

// catchUp implements spec.md's "repeatedly call get_decision(last
// applied+1); for each decided value, apply silently and increment
// last_applied; stop when undecided."
func (r *Replica) catchUp() {
	for {
		inst := r.nextInstance()
		v, ok := r.paxos.GetDecision(inst)
		if !ok {
			return
		}
		r.applySilently(inst, v)
	}
}

func (r *Replica) nextInstance() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastApplied + 1
}

func (r *Replica) dedupLookup(cmd *wire.Command) (wire.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.applied[dedupKey{cmd.ClientID, cmd.ClientSeq}]
	return result, ok
}

// applySilently applies a decided command without replying to its
// originator - used for catch-up and for instances won by a command
// other than this replica's own pending one.
func (r *Replica) applySilently(inst uint64, cmd *wire.Command) {
	result := r.state.Apply(cmd)
	r.mu.Lock()
	r.lastApplied = inst
	r.applied[dedupKey{cmd.ClientID, cmd.ClientSeq}] = result
	r.mu.Unlock()
	r.incr("apply.silent")
}

// applyAndReply applies cmd (this replica's own pending command, which
// won instance inst) and replies to its originating client.
func (r *Replica) applyAndReply(inst uint64, cmd *wire.Command) wire.Result {
	result := r.state.Apply(cmd)
	r.mu.Lock()
	r.lastApplied = inst
	r.applied[dedupKey{cmd.ClientID, cmd.ClientSeq}] = result
	r.mu.Unlock()
	r.incr("apply.own")
	r.reply(cmd, result)
	return result
}

func (r *Replica) frontPending() (*wire.Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil, false
	}
	return r.pending[0], true
}

func (r *Replica) popPending(cmd *wire.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) > 0 && r.pending[0] == cmd {
		r.pending = r.pending[1:]
	}
}
