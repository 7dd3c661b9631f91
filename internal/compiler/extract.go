package compiler

import (
	"regexp"
	"strings"

	"github.com/roach88/hivelang/internal/ir"
)

// markerPattern matches a capability marker at the start of a line:
//
//	@capability name(param1, param2)
//
// The marker syntax is the wire format for integration source, so it is
// matched textually; bodies are left to the lang package.
var markerPattern = regexp.MustCompile(`(?m)^[ \t]*@capability[ \t]+([A-Za-z_][A-Za-z0-9_]*)[ \t]*\(([^)]*)\)`)

// Extract splits integration source into capability units.
//
// Each body runs from the end of its marker to the start of the next marker
// or the end of input. Parameters are split on commas and trimmed; empty
// entries are dropped, so trailing commas are allowed. Source without any
// marker yields an empty slice. Duplicate names are returned as found.
func Extract(source string) []ir.CapabilityUnit {
	matches := markerPattern.FindAllStringSubmatchIndex(source, -1)
	units := make([]ir.CapabilityUnit, 0, len(matches))
	for i, m := range matches {
		end := len(source)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		units = append(units, ir.CapabilityUnit{
			Name:       source[m[2]:m[3]],
			Parameters: splitParams(source[m[4]:m[5]]),
			RawBody:    source[m[1]:end],
			Line:       1 + strings.Count(source[:m[0]], "\n"),
		})
	}
	return units
}

func splitParams(list string) []string {
	params := []string{}
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			params = append(params, p)
		}
	}
	return params
}

// bodyOffset returns the column at which a unit's body starts on its
// marker line, so positions inside the body can be reported against the
// whole source.
func bodyOffset(source string, u ir.CapabilityUnit) int {
	lines := strings.SplitN(source, "\n", u.Line+1)
	if len(lines) < u.Line {
		return 0
	}
	loc := markerPattern.FindStringIndex(lines[u.Line-1])
	if loc == nil {
		return 0
	}
	return loc[1]
}
