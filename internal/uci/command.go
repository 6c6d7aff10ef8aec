package uci

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/orin-labs/uciagent/internal/domain"
)

// CommandKind enumerates the uci verbs accepted from LLM output.
type CommandKind string

const (
	CommandSet    CommandKind = "set"
	CommandAdd    CommandKind = "add"
	CommandDelete CommandKind = "delete"
	CommandCommit CommandKind = "commit"
	CommandShow   CommandKind = "show"
)

// Command is one parsed uci command line.
type Command struct {
	Kind    CommandKind
	Package string
	Section string
	Option  string
	// Value is set for CommandSet, and holds the section type for CommandAdd.
	Value string
	Raw   string
}

// IsMutation reports whether the command changes router state.
func (c *Command) IsMutation() bool {
	return c.Kind == CommandSet || c.Kind == CommandAdd || c.Kind == CommandDelete
}

// Target rebuilds the dotted config path this command addresses.
func (c *Command) Target() string {
	parts := []string{c.Package}
	if c.Section != "" {
		parts = append(parts, c.Section)
	}
	if c.Option != "" {
		parts = append(parts, c.Option)
	}
	return strings.Join(parts, ".")
}

var (
	namePattern    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	sectionPattern = regexp.MustCompile(`^(@[A-Za-z0-9_-]+(\[-?\d+\])?|[A-Za-z0-9_-]+)$`)

	// shellMetaChars are never legal inside a uci argument. Generated output
	// may later pass through a shell on the router, so command chaining,
	// substitution, and redirection tokens are rejected outright.
	shellMetaChars = ";|&$`()<>\\\"\n\r"
)

// ContainsShellMeta reports whether s contains a shell metacharacter.
func ContainsShellMeta(s string) bool {
	return strings.ContainsAny(s, shellMetaChars)
}

// ParseCommand parses a single uci command line. Any deviation from the
// recognized grammar is an error; there is no best-effort mode, because a
// half-understood command is worse than a rejected one.
func ParseCommand(line string) (*Command, error) {
	raw := strings.TrimSpace(line)
	fields, err := splitQuoted(raw)
	if err != nil {
		return nil, unparsable(raw, "unterminated quote")
	}
	if len(fields) < 2 || fields[0] != "uci" {
		return nil, unparsable(raw, "not a uci command")
	}

	cmd := &Command{Raw: raw}
	switch fields[1] {
	case "set":
		if len(fields) != 3 {
			return nil, unparsable(raw, "uci set takes exactly one path=value argument")
		}
		path, value, ok := strings.Cut(fields[2], "=")
		if !ok {
			return nil, unparsable(raw, "uci set requires path=value")
		}
		pkg, section, option, err := parsePath(path, 2, 3)
		if err != nil {
			return nil, unparsable(raw, err.Error())
		}
		if ContainsShellMeta(value) {
			return nil, unparsable(raw, "value contains shell metacharacters")
		}
		cmd.Kind = CommandSet
		cmd.Package, cmd.Section, cmd.Option, cmd.Value = pkg, section, option, value

	case "add":
		if len(fields) != 4 || !namePattern.MatchString(fields[2]) || !namePattern.MatchString(fields[3]) {
			return nil, unparsable(raw, "uci add requires a package and a section type")
		}
		cmd.Kind = CommandAdd
		cmd.Package, cmd.Value = fields[2], fields[3]

	case "delete", "del":
		if len(fields) != 3 {
			return nil, unparsable(raw, "uci delete takes exactly one path argument")
		}
		pkg, section, option, err := parsePath(fields[2], 2, 3)
		if err != nil {
			return nil, unparsable(raw, err.Error())
		}
		cmd.Kind = CommandDelete
		cmd.Package, cmd.Section, cmd.Option = pkg, section, option

	case "commit":
		if len(fields) > 3 {
			return nil, unparsable(raw, "uci commit takes at most one package argument")
		}
		if len(fields) == 3 {
			if !namePattern.MatchString(fields[2]) {
				return nil, unparsable(raw, "invalid package name")
			}
			cmd.Package = fields[2]
		}
		cmd.Kind = CommandCommit

	case "show":
		if len(fields) > 3 {
			return nil, unparsable(raw, "uci show takes at most one path argument")
		}
		if len(fields) == 3 {
			pkg, section, option, err := parsePath(fields[2], 1, 3)
			if err != nil {
				return nil, unparsable(raw, err.Error())
			}
			cmd.Package, cmd.Section, cmd.Option = pkg, section, option
		}
		cmd.Kind = CommandShow

	default:
		return nil, unparsable(raw, fmt.Sprintf("unrecognized uci verb %q", fields[1]))
	}

	return cmd, nil
}

// ParseScript parses LLM output lines into an ordered command sequence.
// Blank lines and # comments are skipped; every other line must parse, or
// the whole script is unparsable. Partial trust in model output is unsafe.
func ParseScript(lines []string) ([]*Command, error) {
	var commands []*Command
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		cmd, err := ParseCommand(trimmed)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}
	if len(commands) == 0 {
		return nil, domain.ErrEmptyScript
	}
	return commands, nil
}

// Packages returns the sorted set of packages touched by mutating commands.
func Packages(commands []*Command) []string {
	seen := map[string]bool{}
	for _, cmd := range commands {
		if cmd.IsMutation() && cmd.Package != "" {
			seen[cmd.Package] = true
		}
	}
	pkgs := make([]string, 0, len(seen))
	for pkg := range seen {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}

func parsePath(path string, minParts, maxParts int) (pkg, section, option string, err error) {
	parts := strings.Split(path, ".")
	if len(parts) < minParts || len(parts) > maxParts {
		return "", "", "", fmt.Errorf("invalid config path %q", path)
	}
	if !namePattern.MatchString(parts[0]) {
		return "", "", "", fmt.Errorf("invalid package name %q", parts[0])
	}
	pkg = parts[0]
	if len(parts) > 1 {
		if !sectionPattern.MatchString(parts[1]) {
			return "", "", "", fmt.Errorf("invalid section name %q", parts[1])
		}
		section = parts[1]
	}
	if len(parts) > 2 {
		if !namePattern.MatchString(parts[2]) {
			return "", "", "", fmt.Errorf("invalid option name %q", parts[2])
		}
		option = parts[2]
	}
	return pkg, section, option, nil
}

func unparsable(line, reason string) error {
	return domain.NewDomainErrorWithCause(domain.ErrCodeUnparsableOutput,
		fmt.Sprintf("%s: %q", reason, line), domain.ErrUnparsableOutput)
}
