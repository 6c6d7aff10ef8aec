// Package uci parses OpenWRT UCI configuration text: it splits exported
// config files into section chunks for indexing and parses the uci command
// grammar accepted from generated scripts.
package uci

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/orin-labs/uciagent/internal/domain"
)

// SplitConfig splits raw UCI configuration text into one ConfigChunk per
// top-level section. Each chunk keeps the section header, its option/list
// lines, and any package/comment/blank lines immediately above it, verbatim,
// so concatenating all chunks of a file reproduces the file byte-for-byte
// modulo a normalized trailing newline.
//
// Malformed input rejects the whole file: no partial chunk set is ever
// returned, so a broken export can never be indexed as ground truth.
func SplitConfig(sourceFile, text string) ([]domain.ConfigChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	var chunks []domain.ConfigChunk
	var pending []string // package/comment/blank lines awaiting the next section
	var current []string // lines of the section being collected
	currentPackage := ""
	currentPath := ""
	anonCounts := map[string]int{}

	flush := func() {
		if current == nil {
			return
		}
		chunks = append(chunks, domain.ConfigChunk{
			ChunkID:     ChunkID(sourceFile, currentPath),
			SourceFile:  sourceFile,
			SectionType: domain.KnownSectionType(currentPackage),
			SectionPath: currentPath,
			ChunkIndex:  len(chunks),
			RawText:     strings.Join(current, "\n") + "\n",
		})
		current = nil
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
			if current != nil {
				current = append(current, line)
			} else {
				pending = append(pending, line)
			}

		case strings.HasPrefix(trimmed, "package"):
			flush()
			name, err := parsePackageLine(trimmed)
			if err != nil {
				return nil, lineError(err, i, line)
			}
			currentPackage = name
			anonCounts = map[string]int{}
			pending = append(pending, line)

		case strings.HasPrefix(trimmed, "config"):
			flush()
			secType, secName, err := parseSectionHeader(trimmed)
			if err != nil {
				return nil, lineError(err, i, line)
			}
			if secName == "" {
				idx := anonCounts[secType]
				anonCounts[secType]++
				secName = fmt.Sprintf("@%s[%d]", secType, idx)
			}
			currentPath = sectionPath(currentPackage, secType, secName)
			current = append(pending, line)
			pending = nil

		case strings.HasPrefix(trimmed, "option") || strings.HasPrefix(trimmed, "list"):
			if current == nil {
				return nil, lineError(domain.ErrOptionOutsideSection, i, line)
			}
			if err := checkValueLine(trimmed); err != nil {
				return nil, lineError(err, i, line)
			}
			current = append(current, line)

		default:
			return nil, lineError(domain.ErrUnrecognizedLine, i, line)
		}
	}

	flush()

	if len(chunks) == 0 {
		// Only package/comment lines: nothing chunkable, nothing to attach
		// the leftovers to, so round-trip fidelity would be lost.
		return nil, domain.NewDomainError(domain.ErrCodeParse, "configuration contains no config sections")
	}
	if len(pending) > 0 {
		last := &chunks[len(chunks)-1]
		last.RawText += strings.Join(pending, "\n") + "\n"
	}

	return chunks, nil
}

// ChunkID derives the stable chunk identifier from the source file and the
// section path. Identical input always yields the identical ID, which keeps
// re-ingestion idempotent.
func ChunkID(sourceFile, sectionPath string) string {
	sum := sha256.Sum256([]byte(sourceFile + "\x00" + sectionPath))
	return hex.EncodeToString(sum[:])
}

func sectionPath(pkg, secType, secName string) string {
	if pkg == "" {
		return secType + "." + secName
	}
	return pkg + "." + secType + "." + secName
}

func parsePackageLine(line string) (string, error) {
	fields, err := splitQuoted(line)
	if err != nil {
		return "", err
	}
	if len(fields) != 2 || fields[0] != "package" || fields[1] == "" {
		return "", domain.ErrMalformedSection
	}
	return fields[1], nil
}

func parseSectionHeader(line string) (secType, secName string, err error) {
	fields, err := splitQuoted(line)
	if err != nil {
		return "", "", err
	}
	if fields[0] != "config" || len(fields) < 2 || len(fields) > 3 || fields[1] == "" {
		return "", "", domain.ErrMalformedSection
	}
	secType = fields[1]
	if len(fields) == 3 {
		secName = fields[2]
	}
	return secType, secName, nil
}

func checkValueLine(line string) error {
	fields, err := splitQuoted(line)
	if err != nil {
		return err
	}
	// option/list lines carry a name and a value; a bare name is an
	// interrupted export.
	if len(fields) < 3 || (fields[0] != "option" && fields[0] != "list") {
		return domain.ErrMalformedSection
	}
	return nil
}

// splitQuoted splits a line into fields, honoring single-quoted values that
// may contain spaces. An unterminated quote means the section was cut off
// mid-line and the file is rejected.
func splitQuoted(line string) ([]string, error) {
	var fields []string
	var buf strings.Builder
	inQuote := false
	hasField := false

	for _, r := range line {
		switch {
		case r == '\'':
			inQuote = !inQuote
			hasField = true
		case (r == ' ' || r == '\t') && !inQuote:
			if hasField {
				fields = append(fields, buf.String())
				buf.Reset()
				hasField = false
			}
		default:
			buf.WriteRune(r)
			hasField = true
		}
	}
	if inQuote {
		return nil, domain.NewDomainError(domain.ErrCodeParse, "unterminated quoted value")
	}
	if hasField {
		fields = append(fields, buf.String())
	}
	return fields, nil
}

func lineError(err error, index int, line string) error {
	return domain.NewDomainErrorWithCause(domain.ErrCodeParse,
		fmt.Sprintf("line %d: %q", index+1, strings.TrimSpace(line)), err)
}
