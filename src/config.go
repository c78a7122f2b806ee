package ipsec

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tables are initialized by loading pre-populated descriptors rather
// than built up interactively. This file reads that descriptor set from
// a YAML document.

// TunnelConfig is the top-level YAML document describing one interface's
// four databases.
type TunnelConfig struct {
	SAD struct {
		Inbound  []SAConfig `yaml:"inbound"`
		Outbound []SAConfig `yaml:"outbound"`
	} `yaml:"sad"`
	SPD struct {
		Inbound  []SPDConfig `yaml:"inbound"`
		Outbound []SPDConfig `yaml:"outbound"`
	} `yaml:"spd"`
}

// SAConfig is the YAML representation of one SAEntry. Keys are given in
// hex so a config file can hold binary key material legibly.
type SAConfig struct {
	Name     string `yaml:"name"`
	Dest     string `yaml:"dest"`
	DestMask string `yaml:"dest_mask"`
	SPI      uint32 `yaml:"spi"`
	Protocol string `yaml:"protocol"` // "AH" or "ESP"
	EncAlg   string `yaml:"enc_alg"`  // "NONE", "DES", "3DES"
	EncKey   string `yaml:"enc_key"`  // hex
	AuthAlg  string `yaml:"auth_alg"` // "NONE", "HMAC-MD5", "HMAC-SHA1"
	AuthKey  string `yaml:"auth_key"` // hex
	Lifetime uint32 `yaml:"lifetime"`
	PathMTU  uint16 `yaml:"path_mtu"`
}

// SPDConfig is the YAML representation of one SPDEntry.
type SPDConfig struct {
	Src      string `yaml:"src"`
	SrcMask  string `yaml:"src_mask"`
	Dst      string `yaml:"dst"`
	DstMask  string `yaml:"dst_mask"`
	Protocol uint8  `yaml:"protocol"`
	SrcPort  uint16 `yaml:"src_port"`
	DstPort  uint16 `yaml:"dst_port"`
	Policy   string `yaml:"policy"` // "APPLY", "BYPASS", "DISCARD"
	SA       string `yaml:"sa"`     // name of an SAConfig, required iff APPLY
}

// LoadTunnelConfig reads and parses a YAML descriptor file from path.
func LoadTunnelConfig(path string) (*TunnelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ipsec: reading config %s: %w", path, err)
	}
	var cfg TunnelConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ipsec: parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// BuildDatabases materializes a Databases set from cfg, binding each
// PolicyApply SPD entry to the SA named in its `sa` field.
func BuildDatabases(cfg *TunnelConfig) (*Databases, error) {
	dbs := NewDatabases()

	inboundNames, err := loadSAs(cfg.SAD.Inbound, dbs.InboundSAD)
	if err != nil {
		return nil, fmt.Errorf("inbound SAD: %w", err)
	}
	outboundNames, err := loadSAs(cfg.SAD.Outbound, dbs.OutboundSAD)
	if err != nil {
		return nil, fmt.Errorf("outbound SAD: %w", err)
	}

	if err := loadSPD(cfg.SPD.Inbound, dbs.InboundSPD, inboundNames); err != nil {
		return nil, fmt.Errorf("inbound SPD: %w", err)
	}
	if err := loadSPD(cfg.SPD.Outbound, dbs.OutboundSPD, outboundNames); err != nil {
		return nil, fmt.Errorf("outbound SPD: %w", err)
	}
	return dbs, nil
}

func loadSAs(entries []SAConfig, table *SADTable) (map[string]SARef, error) {
	names := make(map[string]SARef, len(entries))
	for _, c := range entries {
		entry, err := saFromConfig(c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
		ref, err := table.SADAdd(entry)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
		names[c.Name] = ref
	}
	return names, nil
}

func saFromConfig(c SAConfig) (SAEntry, error) {
	var entry SAEntry
	dest, err := parseIPv4(c.Dest)
	if err != nil {
		return entry, err
	}
	mask, err := parseIPv4(c.DestMask)
	if err != nil {
		return entry, err
	}
	proto, err := parseProtocol(c.Protocol)
	if err != nil {
		return entry, err
	}
	encAlg, err := parseEncAlg(c.EncAlg)
	if err != nil {
		return entry, err
	}
	authAlg, err := parseAuthAlg(c.AuthAlg)
	if err != nil {
		return entry, err
	}
	entry = SAEntry{
		Dest:     dest,
		DestMask: mask,
		SPI:      c.SPI,
		Protocol: proto,
		Mode:     ModeTunnel,
		Lifetime: c.Lifetime,
		PathMTU:  c.PathMTU,
		EncAlg:   encAlg,
		AuthAlg:  authAlg,
	}
	if err := copyHexKey(entry.EncKey[:], c.EncKey); err != nil {
		return entry, fmt.Errorf("enc_key: %w", err)
	}
	if err := copyHexKey(entry.AuthKey[:], c.AuthKey); err != nil {
		return entry, fmt.Errorf("auth_key: %w", err)
	}
	return entry, nil
}

func loadSPD(entries []SPDConfig, table *SPDTable, names map[string]SARef) error {
	for _, c := range entries {
		policy, err := parsePolicy(c.Policy)
		if err != nil {
			return err
		}
		src, err := parseIPv4(c.Src)
		if err != nil {
			return err
		}
		srcMask, err := parseIPv4(c.SrcMask)
		if err != nil {
			return err
		}
		dst, err := parseIPv4(c.Dst)
		if err != nil {
			return err
		}
		dstMask, err := parseIPv4(c.DstMask)
		if err != nil {
			return err
		}
		sel := Selector{
			Src: src, SrcMask: srcMask,
			Dst: dst, DstMask: dstMask,
			Protocol: c.Protocol,
			SrcPort:  c.SrcPort,
			DstPort:  c.DstPort,
		}
		var sa SARef
		if policy == PolicyApply {
			ref, ok := names[c.SA]
			if !ok {
				return fmt.Errorf("APPLY entry references unknown SA %q", c.SA)
			}
			sa = ref
		}
		if _, err := table.SPDAdd(sel, policy, sa); err != nil {
			return err
		}
	}
	return nil
}

func parseIPv4(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	var a, b, c, d uint32
	if n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d); n != 4 || err != nil {
		return 0, fmt.Errorf("invalid IPv4 address %q", s)
	}
	return a<<24 | b<<16 | c<<8 | d, nil
}

func parseProtocol(s string) (Protocol, error) {
	switch s {
	case "AH":
		return ProtoAH, nil
	case "ESP":
		return ProtoESP, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}

func parseEncAlg(s string) (EncAlg, error) {
	switch s {
	case "", "NONE":
		return EncNone, nil
	case "DES":
		return EncDES, nil
	case "3DES":
		return Enc3DES, nil
	default:
		return 0, fmt.Errorf("unknown enc_alg %q", s)
	}
}

func parseAuthAlg(s string) (AuthAlg, error) {
	switch s {
	case "", "NONE":
		return AuthNone, nil
	case "HMAC-MD5":
		return AuthHMACMD5, nil
	case "HMAC-SHA1":
		return AuthHMACSHA1, nil
	default:
		return 0, fmt.Errorf("unknown auth_alg %q", s)
	}
}

func parsePolicy(s string) (Policy, error) {
	switch s {
	case "APPLY":
		return PolicyApply, nil
	case "BYPASS":
		return PolicyBypass, nil
	case "DISCARD":
		return PolicyDiscard, nil
	default:
		return 0, fmt.Errorf("unknown policy %q", s)
	}
}

func copyHexKey(dst []byte, s string) error {
	if s == "" {
		return nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) > len(dst) {
		return fmt.Errorf("key material too long: %d bytes, max %d", len(raw), len(dst))
	}
	copy(dst, raw)
	return nil
}
