package uci

import "strings"

// Schema describes the UCI sections and options the validator recognizes.
// It covers the OpenWRT base packages; a set/delete against anything outside
// it is treated as a probable typo rather than silently accepted, because a
// mistyped path is a silent no-op on a real router.
type Schema struct {
	packages map[string]packageSchema
}

type packageSchema struct {
	// options maps section type to its known option names. An empty option
	// set means any option is accepted for that section type.
	options map[string]map[string]bool
}

// DefaultSchema returns the schema for the OpenWRT base configuration.
func DefaultSchema() *Schema {
	return &Schema{packages: map[string]packageSchema{
		"system": {options: map[string]map[string]bool{
			"system":     optionSet("hostname", "timezone", "zonename", "log_size", "log_file", "log_proto", "conloglevel", "cronloglevel", "ttylogin", "description", "notes"),
			"timeserver": optionSet("enabled", "enable_server", "server", "interface"),
			"led":        optionSet("name", "sysfs", "trigger", "default", "dev", "mode"),
		}},
		"network": {options: map[string]map[string]bool{
			"interface": optionSet("device", "proto", "ipaddr", "netmask", "gateway", "dns", "type", "ifname", "ip6assign", "metric", "auto", "disabled", "username", "password", "mtu", "macaddr"),
			"device":    optionSet("name", "type", "ports", "macaddr", "mtu", "bridge_empty"),
			"globals":   optionSet("ula_prefix", "packet_steering"),
			"route":     optionSet("interface", "target", "netmask", "gateway", "metric", "mtu"),
			"switch":    optionSet("name", "reset", "enable_vlan"),
			"switch_vlan": optionSet("device", "vlan", "ports"),
		}},
		"wireless": {options: map[string]map[string]bool{
			"wifi-device": optionSet("type", "path", "channel", "band", "htmode", "disabled", "country", "cell_density", "txpower"),
			"wifi-iface":  optionSet("device", "network", "mode", "ssid", "encryption", "key", "hidden", "isolate", "disabled", "macfilter", "maclist", "wds"),
		}},
		"firewall": {options: map[string]map[string]bool{
			"defaults":   optionSet("input", "output", "forward", "syn_flood", "drop_invalid", "flow_offloading"),
			"zone":       optionSet("name", "input", "output", "forward", "network", "masq", "mtu_fix", "family"),
			"forwarding": optionSet("src", "dest", "family"),
			"rule":       optionSet("name", "src", "dest", "proto", "src_ip", "dest_ip", "src_port", "dest_port", "target", "family", "icmp_type", "enabled"),
			"redirect":   optionSet("name", "src", "dest", "proto", "src_dport", "dest_ip", "dest_port", "target", "enabled"),
			"include":    optionSet("path", "type", "family", "reload"),
		}},
		"dhcp": {options: map[string]map[string]bool{
			"dnsmasq": optionSet("domainneeded", "boguspriv", "filterwin2k", "localise_queries", "rebind_protection", "rebind_localhost", "local", "domain", "expandhosts", "nonegcache", "cachesize", "authoritative", "readethers", "leasefile", "resolvfile", "nonwildcard", "localservice", "ednspacket_max", "server"),
			"dhcp":    optionSet("interface", "start", "limit", "leasetime", "dhcpv4", "dhcpv6", "ra", "ra_slaac", "ignore", "dynamicdhcp", "dhcp_option"),
			"host":    optionSet("name", "mac", "ip", "duid", "hostid"),
			"domain":  optionSet("name", "ip"),
			"odhcpd":  optionSet("maindhcp", "leasefile", "leasetrigger", "loglevel"),
		}},
		"dropbear": {options: map[string]map[string]bool{
			"dropbear": optionSet("PasswordAuth", "RootPasswordAuth", "Port", "Interface", "GatewayPorts", "IdleTimeout", "enable"),
		}},
	}}
}

// KnownPackage reports whether pkg is in the schema.
func (s *Schema) KnownPackage(pkg string) bool {
	_, ok := s.packages[pkg]
	return ok
}

// KnownSectionType reports whether secType is a valid section type of pkg.
func (s *Schema) KnownSectionType(pkg, secType string) bool {
	p, ok := s.packages[pkg]
	if !ok {
		return false
	}
	_, ok = p.options[secType]
	return ok
}

// KnownOption reports whether option is valid for any section type of pkg
// when the section's type is not statically known, or for secType when it is.
// An unknown package or section type is not a known option.
func (s *Schema) KnownOption(pkg, secType, option string) bool {
	p, ok := s.packages[pkg]
	if !ok {
		return false
	}
	if secType != "" {
		opts, ok := p.options[secType]
		if !ok {
			return false
		}
		return len(opts) == 0 || opts[option]
	}
	for _, opts := range p.options {
		if len(opts) == 0 || opts[option] {
			return true
		}
	}
	return false
}

// SectionTypeOf extracts the type from an anonymous section reference like
// "@wifi-iface[0]". Named sections return "".
func SectionTypeOf(section string) string {
	if !strings.HasPrefix(section, "@") {
		return ""
	}
	name := strings.TrimPrefix(section, "@")
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name
}

func optionSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
