// Command client drives a single front-end call against a freshly
// started local cluster and prints the result.
//
// As with cmd/replica, there is no real cross-process transport (out
// of scope per spec.md), so this boots its own in-memory cluster
// rather than dialing one started by a separate replica process. It
// exists to exercise client.Client's public API the way an operator
// would, one call at a time, rather than the fixed sequence cmd/replica
// runs on startup.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cactus/go-statsd-client/v5/statsd"
	logging "github.com/op/go-logging"
	"github.com/pborman/uuid"

	"github.com/bdeggleston/stockpaxos/client"
	"github.com/bdeggleston/stockpaxos/node"
	"github.com/bdeggleston/stockpaxos/replica"
	"github.com/bdeggleston/stockpaxos/wire"
)

func main() {
	n := flag.Int("replicas", 5, "number of replicas in the backing cluster")
	op := flag.String("op", "query_stock", "create_item|delete_item|add_stock|remove_stock|query_stock")
	item := flag.String("item", "", "item name (required)")
	qty := flag.Uint64("qty", 0, "quantity, required for add_stock/remove_stock")
	flag.Parse()

	logging.SetBackend(logging.NewLogBackend(os.Stderr, "", 0))

	if *item == "" {
		fmt.Fprintln(os.Stderr, "client: -item is required")
		os.Exit(1)
	}

	names := make([]string, *n)
	for i := range names {
		names[i] = fmt.Sprintf("replica-%d", i+1)
	}

	net := node.NewNetwork()
	stats, err := statsd.NewNoopClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: statsd client: %v\n", err)
		os.Exit(1)
	}

	replicas := make([]*replica.Replica, len(names))
	for i, name := range names {
		replicas[i] = replica.New(name, names, net, stats)
	}
	defer func() {
		for _, r := range replicas {
			r.Stop()
		}
	}()

	// Each invocation of this CLI is a distinct front-end with a fresh
	// ClientID, since (ClientID, Seq) is the dedup identity a replica
	// caches results under.
	clientID := "cli-" + uuid.NewUUID().String()
	front := client.New(clientID, names, net, stats)
	defer front.Stop()

	var res wire.Result
	switch *op {
	case "create_item":
		res = front.CreateItem(*item)
	case "delete_item":
		res = front.DeleteItem(*item)
	case "add_stock":
		res = front.AddStock(*item, *qty)
	case "remove_stock":
		res = front.RemoveStock(*item, *qty)
	case "query_stock":
		res = front.QueryStock(*item)
	default:
		fmt.Fprintf(os.Stderr, "client: unknown -op %q\n", *op)
		os.Exit(1)
	}

	if res.Qty != 0 || res.Kind == wire.ResQueryStockOK || res.Kind == wire.ResAddStockOK || res.Kind == wire.ResRemoveStockOK {
		fmt.Printf("%v qty=%v\n", res.Kind, res.Qty)
	} else {
		fmt.Printf("%v\n", res.Kind)
	}
}
