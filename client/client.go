// Package client implements spec.md section 4.3: an eventually-strong
// failure detector with increasing timeout plus a monarchical rank
// rule that funnels every client's command submissions to the same
// replica, and the front-end submission-retry API of spec.md section
// 6.
//
// The teacher (bdeggleston/kickboxerdb) has no standalone client-side
// leader election of its own - it is a server-only codebase - so this
// package is grounded on the *shape* of its cluster.RemoteNode health
// tracking (a node's status flips NODE_UP/NODE_DOWN around each send),
// generalized here into an explicit alive/suspected failure detector.
package client

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
	logging "github.com/op/go-logging"

	"github.com/bdeggleston/stockpaxos/node"
	"github.com/bdeggleston/stockpaxos/wire"
)

var log = logging.MustGetLogger("client")

// Policy knobs from spec.md section 9. Not correctness invariants -
// tests may override these package-level vars; InitialDelay and
// DeltaStep are copied into a Client when New is called.
var (
	InitialDelay       = 2 * time.Second
	DeltaStep          = 2 * time.Second
	LeaderWaitTimeout  = 1 * time.Second
	ServerReplyTimeout = 6 * time.Second
	MaxRetries         = 5
)

// Client is one front-end's collocated leader elector plus its
// command submission API.
type Client struct {
	name    string
	net     *node.Network
	servers []string // sorted: defines the rank order for leader election
	stats   statsd.Statter

	mu        sync.Mutex
	alive     map[string]bool
	suspected map[string]bool
	delay     time.Duration
	delta     time.Duration
	leader    string
	seq       uint64
	pending   map[uint64]chan wire.Result

	stopCh chan struct{}
}

// New registers name on net and starts its election loop against the
// given replica set.
func New(name string, servers []string, net *node.Network, stats statsd.Statter) *Client {
	sorted := append([]string(nil), servers...)
	sort.Strings(sorted)

	c := &Client{
		name:      name,
		net:       net,
		servers:   sorted,
		stats:     stats,
		alive:     make(map[string]bool),
		suspected: make(map[string]bool),
		delay:     InitialDelay,
		delta:     DeltaStep,
		pending:   make(map[uint64]chan wire.Result),
		stopCh:    make(chan struct{}),
	}
	net.Register(name, c.dispatch)
	go c.electionLoop()
	return c
}

// Stop ends the election loop and unregisters this client.
func (c *Client) Stop() {
	close(c.stopCh)
	c.net.Unregister(c.name)
}

func (c *Client) dispatch(from string, msg wire.Message) {
	switch t := msg.(type) {
	case *wire.HeartbeatReply:
		c.mu.Lock()
		c.alive[t.Name] = true
		c.mu.Unlock()
	case *wire.CommandReply:
		c.mu.Lock()
		ch, ok := c.pending[t.ClientSeq]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- t.Result:
			default:
			}
		}
	default:
		log.Warningf("%v: unexpected message type %T from %v", c.name, msg, from)
	}
}

// electionLoop runs spec.md section 4.3's heartbeat/suspicion loop
// every c.delay, growing delay by delta whenever a previously
// suspected replica turns out to still be alive (a false positive).
func (c *Client) electionLoop() {
	timer := time.NewTimer(c.currentDelay())
	defer timer.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-timer.C:
		}
		c.tick()
		timer.Reset(c.currentDelay())
	}
}

func (c *Client) currentDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

func (c *Client) tick() {
	c.mu.Lock()
	falsePositive := false
	for p := range c.alive {
		if c.suspected[p] {
			falsePositive = true
			break
		}
	}
	if falsePositive {
		c.delay += c.delta
		log.Debugf("%v: false suspicion detected, growing delay to %v", c.name, c.delay)
	}

	for _, p := range c.servers {
		if !c.alive[p] && !c.suspected[p] {
			c.suspected[p] = true
			log.Infof("%v: suspecting replica %v", c.name, p)
		}
		if c.alive[p] && c.suspected[p] {
			delete(c.suspected, p)
			log.Infof("%v: replica %v no longer suspected", c.name, p)
		}
	}
	servers := append([]string(nil), c.servers...)
	c.alive = make(map[string]bool)
	c.mu.Unlock()

	for _, p := range servers {
		c.net.Send(c.name, p, &wire.HeartbeatRequest{Probe: c.name})
	}
	c.incr("heartbeat.sent")
}

// GetLeader computes the lowest-ranked non-suspected replica, or
// reports none available. min_rank is the servers' sort order, a
// deterministic total order every client shares.
func (c *Client) GetLeader() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.servers {
		if !c.suspected[p] {
			if c.leader != p {
				log.Infof("%v: leader changed to %v", c.name, p)
			}
			c.leader = p
			return p, true
		}
	}
	c.leader = ""
	return "", false
}

func (c *Client) incr(name string) {
	if c.stats == nil {
		return
	}
	_ = c.stats.Inc(name, 1, 1.0)
}

func (c *Client) nextSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

func (c *Client) registerPending(seq uint64, ch chan wire.Result) {
	c.mu.Lock()
	c.pending[seq] = ch
	c.mu.Unlock()
}

func (c *Client) unregisterPending(seq uint64) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

// submit implements spec.md section 4.3's submission retry: obtain a
// leader, send, wait up to ServerReplyTimeout, retry on abort or
// no-leader up to MaxRetries, give up immediately on timeout, pass
// application-level results through unchanged.
func (c *Client) submit(kind wire.CommandKind, item string, qty uint64) wire.Result {
	// One (ClientID, Seq) identity for the whole logical call, reused
	// across every retry attempt below, so that a retry whose earlier
	// attempt actually succeeded but whose reply was lost is answered
	// from the replica's dedup cache instead of double-applying (the
	// duplicate-proposing fix from SPEC_FULL.md section 6). A later,
	// distinct front-end call gets its own fresh seq.
	seq := c.nextSeq()
	cmd := &wire.Command{Kind: kind, Item: item, Qty: qty, ClientID: c.name, ClientSeq: seq}

	for attempt := 0; attempt < MaxRetries; attempt++ {
		leader, ok := c.GetLeader()
		if !ok {
			time.Sleep(LeaderWaitTimeout)
			continue
		}

		replyCh := make(chan wire.Result, 1)
		c.registerPending(seq, replyCh)
		c.net.Send(c.name, leader, &wire.SubmitCommand{Cmd: cmd})

		select {
		case res := <-replyCh:
			c.unregisterPending(seq)
			if res.Kind == wire.ResAbort {
				c.incr("submit.abort")
				continue
			}
			return res
		case <-time.After(ServerReplyTimeout):
			c.unregisterPending(seq)
			c.incr("submit.timeout")
			return wire.Result{Kind: wire.ResTimeout}
		}
	}
	c.incr("submit.fail")
	return wire.Result{Kind: wire.ResFail}
}

func requirePrecondition(cond bool, msg string) {
	if !cond {
		panic(fmt.Sprintf("stockpaxos: %v", msg))
	}
}

// CreateItem implements spec.md section 6's create_item front-end call.
func (c *Client) CreateItem(item string) wire.Result {
	requirePrecondition(item != "", "item name must not be empty")
	return c.submit(wire.CreateItem, item, 0)
}

// DeleteItem implements spec.md section 6's delete_item front-end call.
func (c *Client) DeleteItem(item string) wire.Result {
	requirePrecondition(item != "", "item name must not be empty")
	return c.submit(wire.DeleteItem, item, 0)
}

// AddStock implements spec.md section 6's add_stock front-end call.
// qty < 1 is a programmer error per spec.md section 7 and panics
// rather than being sent to a replica.
func (c *Client) AddStock(item string, qty uint64) wire.Result {
	requirePrecondition(item != "", "item name must not be empty")
	requirePrecondition(qty >= 1, "add_stock quantity must be >= 1")
	return c.submit(wire.AddStock, item, qty)
}

// RemoveStock implements spec.md section 6's remove_stock front-end call.
func (c *Client) RemoveStock(item string, qty uint64) wire.Result {
	requirePrecondition(item != "", "item name must not be empty")
	requirePrecondition(qty >= 1, "remove_stock quantity must be >= 1")
	return c.submit(wire.RemoveStock, item, qty)
}

// QueryStock implements spec.md section 6's query_stock front-end call.
func (c *Client) QueryStock(item string) wire.Result {
	requirePrecondition(item != "", "item name must not be empty")
	return c.submit(wire.QueryStock, item, 0)
}
