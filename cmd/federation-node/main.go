// Command federation-node runs a local multi-node simulation of the
// federation overlay: N in-process FederationCores sharing one
// core.Registry, bootstrapped as each other's voter seats and ring
// partners. It stands in for a real deployment's one-process-per-node
// topology (spec.md §1's wire transport is out of scope; see
// internal/core's DESIGN.md entry for the Registry substitution).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/federation/internal/config"
	"github.com/luxfi/federation/internal/core"
	"github.com/luxfi/federation/internal/ringid"
)

func main() {
	nodes := flag.Int("nodes", 5, "number of simulated nodes sharing one ring")
	ringName := flag.String("ring", "local", "ring name every simulated node joins")
	flag.Parse()

	if *nodes < 1 {
		fmt.Fprintln(os.Stderr, "federation-node: -nodes must be >= 1")
		os.Exit(1)
	}

	logger := log.NewNoOpLogger()
	cfg := config.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := core.NewRegistry()
	ids := make([]ringid.NodeId, *nodes)
	addrs := make([]string, *nodes)
	directory := make(map[ringid.NodeId]string, *nodes)

	// Spread node ids evenly around the ring so the initial full-range
	// partition (set directly below, bypassing the Join handshake for
	// this local demo) gives every node a plausible-looking slice.
	for i := 0; i < *nodes; i++ {
		ids[i] = ringid.FromUint64(uint64(i) << 48)
		addrs[i] = fmt.Sprintf("node-%d", i)
		directory[ids[i]] = addrs[i]
	}

	cfg.Votes = make([]config.Vote, *nodes)
	for i := range ids {
		cfg.Votes[i] = config.Vote{ID: addrs[i], Type: config.SeedNode, RingName: *ringName}
	}

	cores := make([]*core.FederationCore, *nodes)
	seats := make([]ringid.NodeInstance, *nodes)
	for i := range ids {
		self := ringid.NodeInstance{Id: ids[i], InstanceId: 1}
		cores[i] = core.New(cfg, self, addrs[i], addrs[i]+"-lease", *ringName, directory, reg, echoApp{}, logger, prometheus.NewRegistry())
		seats[i] = self
	}

	// Every node claims the full ring rather than running the real
	// Join/PartitionRanges handshake (spec §4.4) to split it up; this
	// demo exercises VoterStore replication and the maintenance loops,
	// not first-join token partitioning.
	for _, c := range cores {
		if err := c.Bootstrap(ctx, seats, ringid.FullRange()); err != nil {
			fmt.Fprintf(os.Stderr, "federation-node: bootstrap failed: %v\n", err)
			os.Exit(1)
		}
	}

	for _, c := range cores {
		go c.RunMaintenance(ctx)
	}

	fmt.Printf("federation-node: %d node(s) running in ring %q, ctrl-C to stop\n", *nodes, *ringName)
	<-ctx.Done()
	fmt.Println("federation-node: shutting down")
	time.Sleep(50 * time.Millisecond) // let in-flight maintenance goroutines observe ctx.Done()
}

// echoApp is the demo application actor: it echoes whatever payload was
// routed, broadcast, or multicast to it.
type echoApp struct{}

func (echoApp) Deliver(_ context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}
