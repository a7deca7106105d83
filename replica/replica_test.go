package replica

import (
	"fmt"
	"testing"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
	check "gopkg.in/check.v1"

	"github.com/bdeggleston/stockpaxos/client"
	"github.com/bdeggleston/stockpaxos/node"
)

func Test(t *testing.T) { check.TestingT(t) }

type ReplicaSuite struct {
	net      *node.Network
	names    []string
	replicas map[string]*Replica
	front    *client.Client
}

var _ = check.Suite(&ReplicaSuite{})

func (s *ReplicaSuite) startCluster(c *check.C, n int) {
	s.net = node.NewNetwork()
	s.names = nil
	for i := 0; i < n; i++ {
		s.names = append(s.names, fmt.Sprintf("s%v", i+1))
	}
	stats, _ := statsd.NewNoopClient()
	s.replicas = make(map[string]*Replica)
	for _, name := range s.names {
		s.replicas[name] = New(name, s.names, s.net, stats)
	}
	client.InitialDelay = 30 * time.Millisecond
	client.DeltaStep = 30 * time.Millisecond
	client.LeaderWaitTimeout = 200 * time.Millisecond
	client.ServerReplyTimeout = 2 * time.Second
	client.MaxRetries = 5
	ProposeTimeout = 2 * time.Second
	s.front = client.New("front-end-1", s.names, s.net, stats)
	// give the election loop a moment to mark everyone alive.
	time.Sleep(100 * time.Millisecond)
}

func (s *ReplicaSuite) TearDownTest(c *check.C) {
	if s.front != nil {
		s.front.Stop()
	}
	for _, r := range s.replicas {
		r.Stop()
	}
}

func (s *ReplicaSuite) TestBasicCreateAddQuery(c *check.C) {
	s.startCluster(c, 3)

	c.Assert(s.front.CreateItem("cheese").Kind.String(), check.Equals, "create_item_ok")

	addRes := s.front.AddStock("cheese", 10)
	c.Assert(addRes.Kind.String(), check.Equals, "add_stock_ok")
	c.Assert(addRes.Qty, check.Equals, uint64(10))

	queryRes := s.front.QueryStock("cheese")
	c.Assert(queryRes.Kind.String(), check.Equals, "query_stock_ok")
	c.Assert(queryRes.Qty, check.Equals, uint64(10))
}

func (s *ReplicaSuite) TestDuplicateCreate(c *check.C) {
	s.startCluster(c, 3)
	c.Assert(s.front.CreateItem("bread").Kind.String(), check.Equals, "create_item_ok")
	c.Assert(s.front.CreateItem("bread").Kind.String(), check.Equals, "err_duplicate_item")
}

func (s *ReplicaSuite) TestInsufficientStock(c *check.C) {
	s.startCluster(c, 3)
	s.front.CreateItem("milk")
	s.front.AddStock("milk", 3)
	removeRes := s.front.RemoveStock("milk", 5)
	c.Assert(removeRes.Kind.String(), check.Equals, "err_insufficient_stock")

	queryRes := s.front.QueryStock("milk")
	c.Assert(queryRes.Qty, check.Equals, uint64(3))
}

func (s *ReplicaSuite) TestConcurrentAddsFromTwoClients(c *check.C) {
	s.startCluster(c, 3)
	s.front.CreateItem("cheese")

	stats, _ := statsd.NewNoopClient()
	other := client.New("front-end-2", s.names, s.net, stats)
	defer other.Stop()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{}, 2)
	go func() { s.front.AddStock("cheese", 5); done <- struct{}{} }()
	go func() { other.AddStock("cheese", 5); done <- struct{}{} }()
	<-done
	<-done

	res := s.front.QueryStock("cheese")
	c.Assert(res.Qty, check.Equals, uint64(10))
}

func (s *ReplicaSuite) TestAgreementAcrossReplicas(c *check.C) {
	s.startCluster(c, 3)
	s.front.CreateItem("cheese")
	s.front.AddStock("cheese", 10)
	s.front.QueryStock("cheese")

	// let catch-up propagate the instances driven via the leader to
	// every replica by forcing each to process a no-op-equivalent
	// query through itself would require per-replica front-ends; here
	// we just assert the leader's own state, and that every replica
	// that did apply the instances agrees with it.
	leaderName, ok := s.front.GetLeader()
	c.Assert(ok, check.Equals, true)
	leaderSnap := s.replicas[leaderName].Snapshot()
	c.Assert(leaderSnap["cheese"], check.Equals, uint64(10))

	leaderApplied := s.replicas[leaderName].LastApplied()
	for name, r := range s.replicas {
		if r.LastApplied() < leaderApplied {
			continue
		}
		c.Assert(r.Snapshot(), check.DeepEquals, leaderSnap, check.Commentf("replica %v", name))
	}
}

func (s *ReplicaSuite) TestMinorityCrashToleranceFiveReplicas(c *check.C) {
	s.startCluster(c, 5)
	c.Assert(s.front.CreateItem("cheese").Kind.String(), check.Equals, "create_item_ok")

	// kill 2 of 5: a majority of 3 remains and commands still commit.
	s.replicas["s4"].Stop()
	s.replicas["s5"].Stop()
	time.Sleep(100 * time.Millisecond)

	res := s.front.AddStock("cheese", 10)
	c.Assert(res.Kind.String(), check.Equals, "add_stock_ok")
}
