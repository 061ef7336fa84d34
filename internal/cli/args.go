// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// args.go - Argument parsing shared by every primestream command.

package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser parses command arguments. It handles:
//   - Long flags: --flag value or --flag=value
//   - Short flags: -f value
//   - Boolean flags: --flag (no value needed)
//   - Positional arguments: arguments without flags
//
// Flags named in boolNames never consume the following argument, so
// "--wait 1234" keeps 1234 positional.
type ArgParser struct {
	flags      map[string]string // String flags (--key=value)
	boolFlags  map[string]bool   // Boolean flags (--wait)
	positional []string          // Positional arguments in order
}

// NewArgParser creates a parser from raw arguments.
//
// Example:
//
//	args := NewArgParser([]string{"submit", "--bound", "100", "--wait"}, "wait")
//	args.Positional(0)     // "submit"
//	args.Flag("bound")     // "100"
//	args.BoolFlag("wait")  // true
func NewArgParser(raw []string, boolNames ...string) *ArgParser {
	known := make(map[string]bool, len(boolNames))
	for _, name := range boolNames {
		known[name] = true
	}

	parser := &ArgParser{
		flags:      make(map[string]string),
		boolFlags:  make(map[string]bool),
		positional: make([]string, 0),
	}

	i := 0
	for i < len(raw) {
		arg := raw[i]

		// "--" ends flag parsing
		if arg == "--" {
			parser.positional = append(parser.positional, raw[i+1:]...)
			break
		}

		if !strings.HasPrefix(arg, "-") || arg == "-" {
			parser.positional = append(parser.positional, arg)
			i++
			continue
		}

		// --flag=value
		if name, value, ok := strings.Cut(arg, "="); ok {
			name = strings.TrimLeft(name, "-")
			if known[name] || value == "true" || value == "false" {
				b, err := ParseBoolString(value)
				parser.boolFlags[name] = err == nil && b
			} else {
				parser.flags[name] = value
			}
			i++
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if !known[name] && i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-") {
			parser.flags[name] = raw[i+1]
			i += 2
			continue
		}

		parser.boolFlags[name] = true
		i++
	}

	return parser
}

// Flag returns the value of a string flag, or "" if absent.
func (p *ArgParser) Flag(name string) string {
	return p.flags[strings.TrimLeft(name, "-")]
}

// FlagOrDefault returns the flag value or a default if not found.
func (p *ArgParser) FlagOrDefault(name, defaultValue string) string {
	if val := p.Flag(name); val != "" {
		return val
	}
	return defaultValue
}

// FlagUint returns the flag value parsed as an unsigned integer of the
// given bit size. ok is false when the flag is absent.
func (p *ArgParser) FlagUint(name string, bitSize int) (value uint64, ok bool, err error) {
	raw := p.Flag(name)
	if raw == "" {
		return 0, false, nil
	}
	value, err = strconv.ParseUint(strings.ReplaceAll(raw, "_", ""), 10, bitSize)
	if err != nil {
		return 0, true, NewValidationErrorWithExample(
			name, raw, fmt.Sprintf("must be an integer between 0 and %d", uint64(1)<<bitSize-1), "--"+name+" 100000",
		)
	}
	return value, true, nil
}

// FlagIntOrDefault returns the flag value as an integer or a default.
func (p *ArgParser) FlagIntOrDefault(name string, defaultValue int) int {
	val, err := strconv.Atoi(p.Flag(name))
	if err != nil {
		return defaultValue
	}
	return val
}

// BoolFlag returns the value of a boolean flag. Returns false if not found.
func (p *ArgParser) BoolFlag(name string) bool {
	return p.boolFlags[strings.TrimLeft(name, "-")]
}

// HasFlag returns true if the flag exists (either as string or bool flag).
func (p *ArgParser) HasFlag(name string) bool {
	name = strings.TrimLeft(name, "-")
	_, hasString := p.flags[name]
	_, hasBool := p.boolFlags[name]
	return hasString || hasBool
}

// Positional returns the positional argument at index, or "" when out of range.
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalCount returns the number of positional arguments.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// ParseBoolString parses a boolean from various string representations.
// Accepts: true/false, yes/no, y/n, 1/0, on/off (case-insensitive)
func ParseBoolString(s string) (bool, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	switch s {
	case "true", "yes", "y", "1", "on":
		return true, nil
	case "false", "no", "n", "0", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}
