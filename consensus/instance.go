package consensus

import (
	"github.com/bdeggleston/stockpaxos/ballot"
	"github.com/bdeggleston/stockpaxos/wire"
)

// instanceState holds the per-instance fields from spec.md section 3:
// acceptor state (bal/aBal/aVal/decided/decision) plus the
// proposer-local bookkeeping that only matters when this replica
// happens to be the proposer of the instance.
type instanceState struct {
	// acceptor / learner state
	bal      ballot.Number
	aBal     ballot.Number
	aVal     *wire.Command
	decided  bool
	decision *wire.Command

	// proposer-local state; zero-valued when this replica isn't
	// currently proposing this instance
	proposal          *wire.Command
	proposalBal       ballot.Number
	preparedResponses int
	prepareHighestBal ballot.Number
	prepareHighestVal *wire.Command
	v                 *wire.Command
	acceptedResponses int
	acceptSent        bool

	// resultCh delivers the Outcome of the in-flight Propose call, if
	// any, for this instance. Buffered 1 so a late Nack/Decide never
	// blocks the manager's dispatch goroutine.
	resultCh chan Outcome
}

func newInstanceState() *instanceState {
	return &instanceState{}
}

// resetForProposal clears the proposer-local fields ahead of a fresh
// propose attempt, per spec.md section 4.1's Propose step.
func (s *instanceState) resetForProposal(proposal *wire.Command, bal ballot.Number) chan Outcome {
	s.proposal = proposal
	s.proposalBal = bal
	s.preparedResponses = 0
	s.prepareHighestBal = 0
	s.prepareHighestVal = nil
	s.v = nil
	s.acceptedResponses = 0
	s.acceptSent = false
	ch := make(chan Outcome, 1)
	s.resultCh = ch
	return ch
}

// deliver pushes an outcome to a waiting local Propose call, if any,
// without blocking the caller (the channel is always buffered 1, and
// once a result has been delivered further deliveries are no-ops).
func (s *instanceState) deliver(o Outcome) {
	if s.resultCh == nil {
		return
	}
	select {
	case s.resultCh <- o:
	default:
	}
}
