// Command ipsecd is the demo daemon that wires the IPsec engine to a
// pair of Linux TUN devices: "inside" carries plaintext traffic to/from
// the protected network, "outside" carries the AH/ESP-wrapped traffic to
// the peer tunnel endpoint. All IPsec knowledge stays in the engine
// package; this binary only pumps packets and applies policy verdicts.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/tinytux/embeddedipsec/internal/auditlog"
	"github.com/tinytux/embeddedipsec/internal/tunif"
	ipsec "github.com/tinytux/embeddedipsec/src"
)

// maxFrame is sized for the largest packet this engine ever produces: an
// IPSEC_MTU inner packet plus the largest encapsulation overhead (ESP's
// 36-byte prefix plus up to 9 trailer bytes and a 12-byte ICV, 57 in all,
// exceeds AH's fixed 44), with room to spare for either.
const maxFrame = ipsec.IPSecMTU + 128
const frameHeadRoom = 64

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to the tunnel configuration YAML document (required)")
		insideName = pflag.String("inside", "ipsec-in", "TUN device name for the protected-side interface")
		outsideName = pflag.String("outside", "ipsec-out", "TUN device name for the tunnel-side interface")
		tunnelSrc  = pflag.String("tunnel-src", "", "Tunnel source address for outbound encapsulation, e.g. 192.168.1.3")
		tunnelDst  = pflag.String("tunnel-dst", "", "Tunnel destination address for outbound encapsulation, e.g. 192.168.1.5")
		verbose    = pflag.BoolP("verbose", "v", false, "Enable debug-level logging")
		help       = pflag.Bool("help", false, "Display help text")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - embedded IPsec tunnel daemon.\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Bridges a protected-side TUN device to a tunnel-side TUN device,\n")
		fmt.Fprintf(os.Stderr, "applying AH/ESP tunnel-mode transforms per a loaded policy/SA set.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := log.New(os.Stderr)
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if *configPath == "" || *tunnelSrc == "" || *tunnelDst == "" {
		logger.Error("missing required flags", "config", *configPath, "tunnel-src", *tunnelSrc, "tunnel-dst", *tunnelDst)
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := ipsec.LoadTunnelConfig(*configPath)
	if err != nil {
		logger.Fatal("loading config", "err", err)
	}
	dbs, err := ipsec.BuildDatabases(cfg)
	if err != nil {
		logger.Fatal("building databases", "err", err)
	}
	src, err := parseIPv4Flag(*tunnelSrc)
	if err != nil {
		logger.Fatal("parsing tunnel-src", "err", err)
	}
	dst, err := parseIPv4Flag(*tunnelDst)
	if err != nil {
		logger.Fatal("parsing tunnel-dst", "err", err)
	}

	inside, err := tunif.Open(*insideName)
	if err != nil {
		logger.Fatal("opening inside interface", "err", err)
	}
	defer inside.Close()
	outside, err := tunif.Open(*outsideName)
	if err != nil {
		logger.Fatal("opening outside interface", "err", err)
	}
	defer outside.Close()

	logger.Info("tunnel daemon started", "inside", inside.Name(), "outside", outside.Name(), "src", *tunnelSrc, "dst", *tunnelDst)

	audit := auditlog.New(logger.With("component", "audit"))

	errc := make(chan error, 2)
	go pumpOutbound(inside, outside, dbs, src, dst, audit, logger, errc)
	go pumpInbound(outside, inside, dbs, audit, logger, errc)

	logger.Fatal("daemon exiting", "err", <-errc)
}

// pumpOutbound reads plaintext packets off inside, consults the outbound
// SPD, and either applies IPsec, forwards raw (BYPASS), or drops
// (DISCARD) before writing to outside.
func pumpOutbound(inside, outside *tunif.Interface, dbs *ipsec.Databases, src, dst uint32, audit *auditlog.Logger, logger *log.Logger, errc chan<- error) {
	raw := make([]byte, maxFrame)
	for {
		n, err := inside.Read(raw)
		if err != nil {
			errc <- fmt.Errorf("inside read: %w", err)
			return
		}
		if n > ipsec.IPSecMTU {
			logger.Warn("dropping oversized inner packet", "len", n, "mtu", ipsec.IPSecMTU)
			continue
		}

		dbs.RLock()
		spdRef, found := ipsec.SPDLookup(raw[:n], dbs.OutboundSPD)
		dbs.RUnlock()
		if !found {
			audit.Audit(ipsec.AuditEvent{Code: ipsec.AuditFailure, Source: "ipsecd", Message: "no outbound policy, dropping"})
			continue
		}
		spd, ok := spdRef.Get()
		if !ok {
			continue
		}

		switch spd.Policy {
		case ipsec.PolicyDiscard:
			audit.Audit(ipsec.AuditEvent{Code: ipsec.AuditDiscard, Source: "ipsecd", Message: "outbound policy discards packet"})
			continue
		case ipsec.PolicyBypass:
			if _, err := outside.Write(raw[:n]); err != nil {
				logger.Warn("writing bypassed packet", "err", err)
			}
			continue
		}

		// Re-home the packet in a fresh buffer with head/tail room:
		// IPsecOutput grows the body in place to synthesize the outer
		// header, so the room must be reserved before the copy.
		roomy := make([]byte, maxFrame)
		copy(roomy[frameHeadRoom:frameHeadRoom+n], raw[:n])
		buf, err := ipsec.NewBuffer(roomy, frameHeadRoom, n, maxFrame-frameHeadRoom-n)
		if err != nil {
			logger.Warn("allocating output buffer", "err", err)
			continue
		}

		if err := ipsec.IPsecOutput(buf, dbs, src, dst, spdRef, nil, audit); err != nil {
			logger.Warn("ipsec output failed", "err", err)
			continue
		}
		if _, err := outside.Write(buf.Body()); err != nil {
			logger.Warn("writing encapsulated packet", "err", err)
		}
	}
}

// pumpInbound reads AH/ESP packets off outside, runs them through the
// core, and writes the recovered plaintext to inside.
func pumpInbound(outside, inside *tunif.Interface, dbs *ipsec.Databases, audit *auditlog.Logger, logger *log.Logger, errc chan<- error) {
	raw := make([]byte, maxFrame)
	for {
		n, err := outside.Read(raw)
		if err != nil {
			errc <- fmt.Errorf("outside read: %w", err)
			return
		}
		frame := append([]byte(nil), raw[:n]...)
		buf, err := ipsec.NewBuffer(frame, 0, len(frame), 0)
		if err != nil {
			continue
		}
		if err := ipsec.IPsecInput(buf, dbs, audit); err != nil {
			logger.Warn("ipsec input failed", "err", err)
			continue
		}
		if _, err := inside.Write(buf.Body()); err != nil {
			logger.Warn("writing decapsulated packet", "err", err)
		}
	}
}

func parseIPv4Flag(s string) (uint32, error) {
	var a, b, c, d uint32
	if n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d); n != 4 || err != nil {
		return 0, fmt.Errorf("invalid IPv4 address %q", s)
	}
	return a<<24 | b<<16 | c<<8 | d, nil
}
