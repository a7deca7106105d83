package consensus

import (
	"testing"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
	check "gopkg.in/check.v1"

	"github.com/bdeggleston/stockpaxos/node"
	"github.com/bdeggleston/stockpaxos/wire"
)

// Hook up gocheck into the "go test" runner, matching the teacher's
// own consensus package test harness.
func Test(t *testing.T) { check.TestingT(t) }

type ManagerSuite struct {
	net      *node.Network
	names    []string
	managers map[string]*Manager
}

var _ = check.Suite(&ManagerSuite{})

func (s *ManagerSuite) SetUpTest(c *check.C) {
	s.net = node.NewNetwork()
	s.names = []string{"s1", "s2", "s3"}
	s.managers = make(map[string]*Manager)
	stats, _ := statsd.NewNoopClient()
	for _, name := range s.names {
		s.managers[name] = NewManager(name, s.names, s.net, stats)
	}
}

func cmd(item string, qty uint64) *wire.Command {
	return &wire.Command{Kind: wire.AddStock, Item: item, Qty: qty, ClientID: "test-client", ClientSeq: 1}
}

func (s *ManagerSuite) TestSingleProposerDecides(c *check.C) {
	v := cmd("cheese", 10)
	o := s.managers["s1"].Propose(1, v, 2*time.Second)
	c.Assert(o.Kind, check.Equals, OutcomeDecision)
	c.Assert(o.Value.Equal(v), check.Equals, true)

	// allow the Decide broadcast to land everywhere.
	time.Sleep(50 * time.Millisecond)
	for _, name := range s.names {
		decision, ok := s.managers[name].GetDecision(1)
		c.Assert(ok, check.Equals, true)
		c.Assert(decision.Equal(v), check.Equals, true)
	}
}

func (s *ManagerSuite) TestAlreadyDecidedInstanceRepliesImmediately(c *check.C) {
	v := cmd("cheese", 10)
	o := s.managers["s1"].Propose(1, v, 2*time.Second)
	c.Assert(o.Kind, check.Equals, OutcomeDecision)

	// a second, different proposal for the same instance must return
	// the original decision rather than trying to re-decide.
	other := cmd("bread", 3)
	o2 := s.managers["s1"].Propose(1, other, 2*time.Second)
	c.Assert(o2.Kind, check.Equals, OutcomeDecision)
	c.Assert(o2.Value.Equal(v), check.Equals, true)
}

func (s *ManagerSuite) TestConcurrentProposalsAgreeOnOneValue(c *check.C) {
	v1 := cmd("cheese", 10)
	v2 := cmd("bread", 3)

	type result struct {
		name string
		o    Outcome
	}
	ch := make(chan result, 2)
	go func() { ch <- result{"s1", s.managers["s1"].Propose(5, v1, 2*time.Second)} }()
	go func() { ch <- result{"s2", s.managers["s2"].Propose(5, v2, 2*time.Second)} }()

	r1 := <-ch
	r2 := <-ch

	decided := map[OutcomeKind]bool{}
	decided[r1.o.Kind] = true
	decided[r2.o.Kind] = true

	// at least one side must see a decision (possibly both, if the
	// loser's prepare/accept round observed the winner's value before
	// its own quorum check).
	c.Assert(decided[OutcomeDecision], check.Equals, true)

	// whichever of the two decided, every replica must agree on the
	// same value for instance 5.
	time.Sleep(100 * time.Millisecond)
	var agreed *wire.Command
	for _, name := range s.names {
		d, ok := s.managers[name].GetDecision(5)
		if !ok {
			continue
		}
		if agreed == nil {
			agreed = d
		} else if !agreed.Equal(d) {
			c.Fatalf("replicas disagree on instance 5: %+v vs %+v", agreed, d)
		}
	}
	c.Assert(agreed, check.NotNil)
}

func (s *ManagerSuite) TestGetDecisionBeforeDecidedReturnsFalse(c *check.C) {
	_, ok := s.managers["s1"].GetDecision(99)
	c.Assert(ok, check.Equals, false)
}

func (s *ManagerSuite) TestMinorityPartitionTimesOut(c *check.C) {
	s.net.Unregister(Addr("s2"))
	s.net.Unregister(Addr("s3"))

	v := cmd("milk", 1)
	o := s.managers["s1"].Propose(1, v, 200*time.Millisecond)
	c.Assert(o.Kind, check.Equals, OutcomeTimeout)
}
