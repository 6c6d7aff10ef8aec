package service

import (
	"fmt"
	"strings"

	"github.com/orin-labs/uciagent/internal/domain"
	"github.com/orin-labs/uciagent/internal/uci"
)

// ConfirmFlags are explicit operator acknowledgements. Scripts touching
// network-critical paths are rejected until the matching flag is set.
type ConfirmFlags struct {
	// AllowManagementInterface permits changes to the lan interface that
	// carries the management connection. Getting these wrong locks the
	// operator out of the router.
	AllowManagementInterface bool
	// AllowFirewallDefaults permits changes to the firewall default policies
	// (input/output/forward on the defaults section).
	AllowFirewallDefaults bool
	// AllowRemoteAccess permits changes to the dropbear ssh daemon, which is
	// the channel this tool itself executes over.
	AllowRemoteAccess bool
}

// Verdict is the validator's decision on a script.
type Verdict struct {
	Approved bool
	Reason   string
}

func rejected(format string, args ...interface{}) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// ScriptValidator statically checks a generated script against the schema
// and the safety policy before any command reaches a router.
type ScriptValidator struct {
	schema *uci.Schema
}

// NewScriptValidator creates a new ScriptValidator instance
func NewScriptValidator(schema *uci.Schema) *ScriptValidator {
	if schema == nil {
		schema = uci.DefaultSchema()
	}
	return &ScriptValidator{schema: schema}
}

// Validate re-parses every command line and applies the policy checklist.
// Scripts normally arrive pre-parsed from the generator, but the commands are
// re-checked here anyway so that nothing constructed outside the generator
// path can slip a raw line through to the executor.
func (v *ScriptValidator) Validate(script *domain.GeneratedScript, flags ConfirmFlags) Verdict {
	if len(script.Commands) == 0 {
		return rejected("script contains no commands")
	}

	commands, err := uci.ParseScript(script.Commands)
	if err != nil {
		return rejected("command does not match the uci grammar: %v", err)
	}

	// Section types introduced by this script itself, keyed by package then
	// section name. "uci add" creates anonymous sections, "uci set pkg.sec=type"
	// creates named ones; later options on those sections are legal.
	added := map[string]map[string]string{}
	addedAnon := map[string]map[string]bool{}
	noteAdded := func(pkg, section, secType string) {
		if added[pkg] == nil {
			added[pkg] = map[string]string{}
		}
		added[pkg][section] = secType
	}

	for _, cmd := range commands {
		if cmd.Value != "" && uci.ContainsShellMeta(cmd.Value) {
			return rejected("command %q contains shell metacharacters", cmd.Raw)
		}

		switch cmd.Kind {
		case uci.CommandAdd:
			if !v.schema.KnownSectionType(cmd.Package, cmd.Value) {
				return rejected("unknown section type %s.%s in %q", cmd.Package, cmd.Value, cmd.Raw)
			}
			if addedAnon[cmd.Package] == nil {
				addedAnon[cmd.Package] = map[string]bool{}
			}
			addedAnon[cmd.Package][cmd.Value] = true

		case uci.CommandSet:
			if verdict, ok := v.checkSet(cmd, added, addedAnon, noteAdded); !ok {
				return verdict
			}

		case uci.CommandDelete:
			if verdict, ok := v.checkDelete(cmd, added, addedAnon); !ok {
				return verdict
			}

		case uci.CommandCommit, uci.CommandShow:
			// Always safe.
		}

		if cmd.IsMutation() {
			if verdict, ok := v.checkCriticalPath(cmd, flags); !ok {
				return verdict
			}
		}
	}

	return Verdict{Approved: true}
}

func (v *ScriptValidator) checkSet(
	cmd *uci.Command,
	added map[string]map[string]string,
	addedAnon map[string]map[string]bool,
	noteAdded func(pkg, section, secType string),
) (Verdict, bool) {
	if !v.schema.KnownPackage(cmd.Package) {
		return rejected("unknown package %q in %q", cmd.Package, cmd.Raw), false
	}

	// "uci set pkg.section=type" introduces a named section.
	if cmd.Option == "" {
		if !v.schema.KnownSectionType(cmd.Package, cmd.Value) {
			return rejected("unknown section type %s.%s in %q", cmd.Package, cmd.Value, cmd.Raw), false
		}
		noteAdded(cmd.Package, cmd.Section, cmd.Value)
		return Verdict{}, true
	}

	secType := uci.SectionTypeOf(cmd.Section)
	if secType == "" {
		secType = added[cmd.Package][cmd.Section]
	}
	if secType != "" {
		if strings.HasPrefix(cmd.Section, "@") && !addedAnon[cmd.Package][secType] && !v.schema.KnownSectionType(cmd.Package, secType) {
			return rejected("unknown section type %s.%s in %q", cmd.Package, secType, cmd.Raw), false
		}
		if !v.schema.KnownOption(cmd.Package, secType, cmd.Option) {
			return rejected("option %s is not known for %s.%s in %q", cmd.Option, cmd.Package, secType, cmd.Raw), false
		}
		return Verdict{}, true
	}

	// Named section not introduced by this script. The section itself is
	// assumed to exist on the router; the option still has to be plausible
	// for some section type of the package.
	if !v.schema.KnownOption(cmd.Package, "", cmd.Option) {
		return rejected("option %s is not known for package %s in %q", cmd.Option, cmd.Package, cmd.Raw), false
	}
	return Verdict{}, true
}

// checkDelete mirrors the set checks: the target must be plausible under the
// schema or introduced by this script, so a typo'd path is rejected here
// instead of silently no-opping on the router.
func (v *ScriptValidator) checkDelete(
	cmd *uci.Command,
	added map[string]map[string]string,
	addedAnon map[string]map[string]bool,
) (Verdict, bool) {
	if !v.schema.KnownPackage(cmd.Package) {
		return rejected("unknown package %q in %q", cmd.Package, cmd.Raw), false
	}

	secType := uci.SectionTypeOf(cmd.Section)
	if secType == "" {
		secType = added[cmd.Package][cmd.Section]
	}
	if strings.HasPrefix(cmd.Section, "@") && !addedAnon[cmd.Package][secType] && !v.schema.KnownSectionType(cmd.Package, secType) {
		return rejected("unknown section type %s.%s in %q", cmd.Package, secType, cmd.Raw), false
	}

	if cmd.Option == "" {
		return Verdict{}, true
	}
	if secType != "" {
		if !v.schema.KnownOption(cmd.Package, secType, cmd.Option) {
			return rejected("option %s is not known for %s.%s in %q", cmd.Option, cmd.Package, secType, cmd.Raw), false
		}
		return Verdict{}, true
	}

	// Named section not introduced by this script: the option still has to
	// be plausible for some section type of the package.
	if !v.schema.KnownOption(cmd.Package, "", cmd.Option) {
		return rejected("option %s is not known for package %s in %q", cmd.Option, cmd.Package, cmd.Raw), false
	}
	return Verdict{}, true
}

// criticalFirewallOptions are the default-policy options on the firewall
// defaults section.
var criticalFirewallOptions = map[string]bool{
	"input":   true,
	"output":  true,
	"forward": true,
}

func (v *ScriptValidator) checkCriticalPath(cmd *uci.Command, flags ConfirmFlags) (Verdict, bool) {
	switch cmd.Package {
	case "network":
		if cmd.Section == "lan" && !flags.AllowManagementInterface {
			return rejected("changing the management interface (%s) requires confirmation", cmd.Target()), false
		}
	case "firewall":
		isDefaults := cmd.Section == "defaults" || uci.SectionTypeOf(cmd.Section) == "defaults"
		if isDefaults && (cmd.Option == "" || criticalFirewallOptions[cmd.Option]) && !flags.AllowFirewallDefaults {
			return rejected("changing firewall default policy (%s) requires confirmation", cmd.Target()), false
		}
	case "dropbear":
		if !flags.AllowRemoteAccess {
			return rejected("changing the ssh daemon configuration (%s) requires confirmation", cmd.Target()), false
		}
	}
	return Verdict{}, true
}
