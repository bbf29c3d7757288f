// File: cmd/hioload-plan/plan.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/control"
	"github.com/momentics/hioload-rt/topology"
)

func topologyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "sockets", Usage: "synthetic topology sockets; zero discovers the host"},
		&cli.IntFlag{Name: "cores", Value: 4, Usage: "synthetic cores per socket"},
		&cli.IntFlag{Name: "pus", Value: 2, Usage: "synthetic processing units per core"},
		&cli.StringFlag{Name: "process-mask", Usage: "restrict the synthetic process mask, e.g. 0-3,8"},
	}
}

func planCommand() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "print the processing unit of every worker",
		Flags: append(topologyFlags(),
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "runtime config file (yaml or json)"},
			&cli.StringFlag{Name: "strategy", Aliases: []string{"s"}, Usage: "compact, scatter, balanced or numa-balanced"},
			&cli.IntFlag{Name: "workers", Aliases: []string{"n"}, Usage: "number of workers"},
			&cli.BoolFlag{Name: "use-process-mask", Usage: "place only on processing units in the process mask"},
			&cli.IntFlag{Name: "used-cores", Usage: "first core of the placement window"},
			&cli.IntFlag{Name: "max-cores", Usage: "size of the placement window"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "table", Usage: "table or yaml"},
		),
		Action: planAction,
	}
}

func topologyCommand() *cli.Command {
	return &cli.Command{
		Name:   "topology",
		Usage:  "print the socket, core and processing unit layout",
		Flags:  topologyFlags(),
		Action: topologyAction,
	}
}

func loadTopology(c *cli.Context) (topology.Topology, error) {
	if c.Int("sockets") <= 0 {
		t, err := topology.DiscoverOS()
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	t := topology.NewStatic(c.Int("sockets"), c.Int("cores"), c.Int("pus"))
	if list := c.String("process-mask"); list != "" {
		m, err := topology.ParseMask(list)
		if err != nil {
			return nil, err
		}
		t = t.WithProcessMask(m)
	}
	return t, nil
}

func loadConfig(c *cli.Context) (control.Config, error) {
	cfg := control.DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := control.LoadFile(afero.NewOsFs(), path)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}
	if c.IsSet("strategy") {
		cfg.Strategy = c.String("strategy")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("use-process-mask") {
		cfg.UseProcessMask = c.Bool("use-process-mask")
	}
	if c.IsSet("used-cores") {
		cfg.UsedCores = c.Int("used-cores")
	}
	if c.IsSet("max-cores") {
		cfg.MaxCores = c.Int("max-cores")
	}
	return cfg, cfg.Validate()
}

func planAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), 2)
	}
	topo, err := loadTopology(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("topology: %v", err), 1)
	}
	workers := cfg.Workers
	if workers == 0 {
		workers = topo.NumPUs()
		if cfg.UseProcessMask {
			workers = topo.ProcessMask().Count()
		}
	}
	strategy, _ := cfg.PlacementStrategy()
	placement, err := affinity.Plan(strategy, workers, topo, cfg.PlanOptions())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	switch c.String("output") {
	case "yaml":
		return writeYAML(c.App.Writer, placement)
	case "table":
		return writeTable(c.App.Writer, placement)
	default:
		return cli.Exit(fmt.Sprintf("unknown output format %q", c.String("output")), 2)
	}
}

type workerRow struct {
	Worker int    `yaml:"worker"`
	Socket int    `yaml:"socket"`
	Core   int    `yaml:"core"`
	PU     int    `yaml:"pu"`
	Mask   string `yaml:"mask"`
}

type placementDoc struct {
	Strategy string      `yaml:"strategy"`
	Workers  []workerRow `yaml:"workers"`
}

func rows(p *affinity.Placement) []workerRow {
	out := make([]workerRow, p.NumWorkers())
	for i := range out {
		out[i] = workerRow{
			Worker: i,
			Socket: p.Sockets[i],
			Core:   p.Cores[i],
			PU:     p.PUs[i],
			Mask:   p.Masks[i].String(),
		}
	}
	return out
}

func writeYAML(w io.Writer, p *affinity.Placement) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(placementDoc{Strategy: p.Strategy.String(), Workers: rows(p)}); err != nil {
		return err
	}
	return enc.Close()
}

func writeTable(w io.Writer, p *affinity.Placement) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "WORKER\tSOCKET\tCORE\tPU\n")
	for _, r := range rows(p) {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", r.Worker, r.Socket, r.Core, r.PU)
	}
	return tw.Flush()
}

func topologyAction(c *cli.Context) error {
	topo, err := loadTopology(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("topology: %v", err), 1)
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SOCKET\tCORE\tPUS\n")
	for s := 0; s < topo.SocketCount(); s++ {
		off := topology.CoreOffset(topo, s)
		for core := off; core < off+topo.CoreCount(s); core++ {
			var m topology.Mask
			for pu := 0; pu < topo.PUCount(core); pu++ {
				m.Set(topo.PUNumber(core, pu))
			}
			fmt.Fprintf(tw, "%d\t%d\t%s\n", s, core, m.String())
		}
	}
	fmt.Fprintf(tw, "process mask: %s\n", topo.ProcessMask().String())
	return tw.Flush()
}
