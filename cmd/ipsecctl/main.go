// Command ipsecctl is an offline inspector for a tunnel configuration: it
// loads the same YAML descriptor ipsecd reads, builds the SPD/SAD tables
// from it, and prints them. It never touches a network interface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	ipsec "github.com/tinytux/embeddedipsec/src"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to the tunnel configuration YAML document (required)")
		help       = pflag.Bool("help", false, "Display help text")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - dump the SPD/SAD tables a tunnel config would build.\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "error: --config is required")
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := ipsec.LoadTunnelConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(1)
	}
	dbs, err := ipsec.BuildDatabases(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "building databases:", err)
		os.Exit(1)
	}
	fmt.Println(dbs.String())
}
