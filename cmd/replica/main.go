// Command replica boots a local stock-management cluster.
//
// The transport layer is explicitly out of scope for this system (see
// spec.md's Purpose & Scope: "assumed to deliver point-to-point
// messages... between non-crashed nodes"), so there is no real
// cross-process wire format here, same as the teacher repo never ships
// a standalone network binary of its own. This main wires N replicas
// onto one node.Network in a single process and runs a short scripted
// workload against them, the same demonstration shape as the pack's
// cmd/demo runners.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/cactus/go-statsd-client/v5/statsd"
	logging "github.com/op/go-logging"

	"github.com/bdeggleston/stockpaxos/client"
	"github.com/bdeggleston/stockpaxos/node"
	"github.com/bdeggleston/stockpaxos/replica"
)

var log = logging.MustGetLogger("cmd/replica")

func main() {
	n := flag.Int("replicas", 5, "number of replicas in the cluster")
	item := flag.String("item", "widget", "item name to exercise in the startup demo")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := logging.INFO
	if *verbose {
		level = logging.DEBUG
	}
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.NewBackendFormatter(backend, logging.MustStringFormatter(
		"%{time:15:04:05.000} %{level:.4s} %{module}: %{message}",
	))
	leveled := logging.AddModuleLevel(formatter)
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)

	if *n < 3 {
		fmt.Fprintln(os.Stderr, "replica: -replicas must be at least 3 to tolerate any crash")
		os.Exit(1)
	}

	names := make([]string, *n)
	for i := range names {
		names[i] = fmt.Sprintf("replica-%d", i+1)
	}

	net := node.NewNetwork()
	stats, err := statsd.NewNoopClient()
	if err != nil {
		log.Fatalf("statsd client: %v", err)
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

	front := client.New("demo-client", names, net, stats)
	defer front.Stop()

	log.Infof("cluster of %d replicas up, running startup demo against item %q", *n, *item)
	runDemo(front, *item)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	log.Info("demo complete, press ctrl-c to exit")
	<-sig
}

func runDemo(front *client.Client, item string) {
	if res := front.CreateItem(item); res.Kind.String() != "" {
		log.Infof("create_item(%v) -> %v", item, res.Kind)
	}
	if res := front.AddStock(item, 10); res.Kind.String() != "" {
		log.Infof("add_stock(%v, 10) -> %v qty=%v", item, res.Kind, res.Qty)
	}
	if res := front.QueryStock(item); res.Kind.String() != "" {
		log.Infof("query_stock(%v) -> %v qty=%v", item, res.Kind, res.Qty)
	}
}
