// File: cmd/hioload-plan/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hioload-plan prints worker placements for a strategy and worker count on
// a synthetic or discovered CPU topology.

package main

import (
	"flag"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func main() {
	defer klog.Flush()
	if err := newApp().Run(os.Args); err != nil {
		klog.ErrorS(err, "hioload-plan failed")
		os.Exit(1)
	}
}

func newApp() *cli.App {
	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)

	return &cli.App{
		Name:  "hioload-plan",
		Usage: "inspect cpu topology and worker placement",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "verbosity",
				Aliases: []string{"v"},
				Usage:   "klog verbosity level",
			},
		},
		Before: func(c *cli.Context) error {
			return klogFlags.Set("v", strconv.Itoa(c.Int("verbosity")))
		},
		Commands: []*cli.Command{
			planCommand(),
			topologyCommand(),
		},
	}
}
