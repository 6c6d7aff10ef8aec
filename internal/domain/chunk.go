package domain

import "time"

// SectionType classifies the UCI package a chunk belongs to.
type SectionType string

const (
	SectionSystem   SectionType = "system"
	SectionNetwork  SectionType = "network"
	SectionWireless SectionType = "wireless"
	SectionFirewall SectionType = "firewall"
	SectionDHCP     SectionType = "dhcp"
	SectionDropbear SectionType = "dropbear"
	// SectionOther covers packages outside the base set (luci, uhttpd, ...).
	SectionOther SectionType = "other"
)

// KnownSectionType maps a UCI package name to its SectionType.
func KnownSectionType(pkg string) SectionType {
	switch pkg {
	case "system":
		return SectionSystem
	case "network":
		return SectionNetwork
	case "wireless":
		return SectionWireless
	case "firewall":
		return SectionFirewall
	case "dhcp":
		return SectionDHCP
	case "dropbear":
		return SectionDropbear
	default:
		return SectionOther
	}
}

// ConfigChunk is one retrievable unit of UCI configuration text: a top-level
// section block plus any leading package/comment lines that belong to it.
// ChunkID is the hex SHA-256 of source file and section path, so re-ingesting
// identical input yields identical IDs.
type ConfigChunk struct {
	ChunkID     string
	SourceFile  string
	SectionType SectionType
	// SectionPath is pkg.type.name, or pkg.@type[i] for anonymous sections.
	SectionPath string
	ChunkIndex  int
	RawText     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
