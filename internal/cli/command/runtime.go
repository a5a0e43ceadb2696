package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/channelmesh/channelmesh-go/internal/client"
	"github.com/channelmesh/channelmesh-go/internal/cluster/routing"
	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/internal/core/reconcile"
	"github.com/channelmesh/channelmesh-go/internal/infra/confloader"
	"github.com/channelmesh/channelmesh-go/internal/transport"
	"github.com/channelmesh/channelmesh-go/internal/transport/memtransport"
)

// probeConfig is the probe's file/env configuration surface. Flags
// override loaded values.
type probeConfig struct {
	Nodes   int  `koanf:"nodes"`
	Sharded bool `koanf:"sharded"`
	Reconcile struct {
		ConvergenceWindow time.Duration `koanf:"convergence_window"`
	} `koanf:"reconcile"`
}

// Runtime is the live engine a probe invocation runs against: an
// in-memory cluster, a topology spanning it, and one client.
type Runtime struct {
	Client  *client.Client
	Cluster *memtransport.Cluster
	Nodes   []transport.NodeID
}

// newRuntime builds the runtime from config file, environment, and
// flags, then seeds any foreign subscriptions requested.
func newRuntime(c *cli.Context) (*Runtime, error) {
	cfg := probeConfig{Nodes: 3, Sharded: true}
	if path := c.String("config"); path != "" {
		loader := confloader.NewLoader(confloader.WithConfigFile(path))
		if err := loader.Load(&cfg); err != nil {
			return nil, err
		}
	}
	if c.IsSet("nodes") {
		cfg.Nodes = c.Int("nodes")
	}
	if c.IsSet("sharded") {
		cfg.Sharded = c.Bool("sharded")
	}
	if cfg.Nodes < 1 {
		return nil, fmt.Errorf("at least one node required")
	}

	nodes := make([]transport.NodeID, cfg.Nodes)
	infos := make([]routing.NodeInfo, cfg.Nodes)
	for i := range nodes {
		nodes[i] = transport.NodeID(fmt.Sprintf("node-%d:6379", i+1))
		infos[i] = routing.NodeInfo{ID: nodes[i], Primary: true}
	}

	cluster, err := memtransport.New(memtransport.Config{
		Nodes:         nodes,
		ShardedPubSub: cfg.Sharded,
		ConfirmDelay:  time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	topo := routing.NewStaticTopology(infos...)
	span := uint16(domain.SlotCount / cfg.Nodes)
	for i, id := range nodes {
		from := uint16(i) * span
		to := from + span - 1
		if i == cfg.Nodes-1 {
			to = domain.SlotCount - 1
		}
		topo.AssignSlotRange(from, to, id)
	}

	cl, err := client.New(client.Config{
		Standalone: cfg.Nodes == 1,
		Reconcile: reconcile.Config{
			ConvergenceWindow: cfg.Reconcile.ConvergenceWindow,
		},
	}, cluster, topo)
	if err != nil {
		return nil, err
	}
	cluster.Start()

	rt := &Runtime{Client: cl, Cluster: cluster, Nodes: nodes}
	for _, seed := range c.StringSlice("seed") {
		if err := rt.applySeed(seed); err != nil {
			cl.Close()
			return nil, err
		}
	}
	return rt, nil
}

// applySeed parses "mode:target[@node-index]" and registers a foreign
// subscriber. Node index defaults to 0.
func (rt *Runtime) applySeed(seed string) error {
	spec, nodePart, hasNode := strings.Cut(seed, "@")
	modePart, target, ok := strings.Cut(spec, ":")
	if !ok || target == "" {
		return fmt.Errorf("bad seed %q: want mode:target[@node-index]", seed)
	}

	mode, err := parseMode(modePart)
	if err != nil {
		return fmt.Errorf("bad seed %q: %w", seed, err)
	}

	idx := 0
	if hasNode {
		n, err := strconv.Atoi(nodePart)
		if err != nil || n < 0 || n >= len(rt.Nodes) {
			return fmt.Errorf("bad seed %q: node index out of range", seed)
		}
		idx = n
	}

	rt.Cluster.AddExternalSubscriber(rt.Nodes[idx], mode, target)
	return nil
}

// Close tears the runtime down.
func (rt *Runtime) Close() error {
	return rt.Client.Close()
}
