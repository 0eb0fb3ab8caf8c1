package zpool

import (
	"regexp"
	"strings"
)

// StatusReport is the parsed form of `zpool status`. The narrative fields
// (Status, Action, Scan, Errors) are re-flowed onto one line because zpool
// wraps them across indented continuation lines with no marker.
type StatusReport struct {
	Pool   string    `json:"pool"`
	State  string    `json:"state"`
	Status string    `json:"status"`
	Action string    `json:"action"`
	Scan   string    `json:"scan"`
	Errors string    `json:"errors"`
	Config []*Device `json:"config"`
	Raw    string    `json:"raw"`
}

// Device is one node of the vdev tree. Error counters stay strings: zpool
// prints values like "0" and we pass them through untouched. Children is
// always non-nil so the JSON form always carries a list.
type Device struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	ReadErrors     string    `json:"read_errors"`
	WriteErrors    string    `json:"write_errors"`
	ChecksumErrors string    `json:"checksum_errors"`
	Children       []*Device `json:"children"`
}

// section is the parser state. zpool status has no machine-readable mode,
// so this is a line-oriented state machine: a recognized label switches
// section, any other non-empty line belongs to the current one.
type section int

const (
	secNone section = iota
	secStatus
	secAction
	secScan
	secConfig
	secErrors
)

// Label transition table. Prefixes match zpool's right-aligned labels
// exactly. A nil field means the label only switches section ("config:"),
// or is discarded entirely ("  pool:" — the caller already knows the name).
type labelRule struct {
	prefix string
	next   section
	field  func(*StatusReport) *string
}

var labelRules = []labelRule{
	{"  pool:", secNone, nil},
	{" state:", secNone, func(r *StatusReport) *string { return &r.State }},
	{"status:", secStatus, func(r *StatusReport) *string { return &r.Status }},
	{"action:", secAction, func(r *StatusReport) *string { return &r.Action }},
	{"  scan:", secScan, func(r *StatusReport) *string { return &r.Scan }},
	{"config:", secConfig, nil},
	{"errors:", secErrors, func(r *StatusReport) *string { return &r.Errors }},
}

// ParseStatus parses raw `zpool status` output. Empty input yields empty
// fields and an empty tree.
func ParseStatus(raw string) *StatusReport {
	report := &StatusReport{Config: []*Device{}}
	sec := secNone
	var configLines []string

	for _, line := range strings.Split(raw, "\n") {
		stripped := strings.TrimSpace(line)

		if rule, ok := matchLabel(line); ok {
			sec = rule.next
			if rule.field != nil {
				_, rest, _ := strings.Cut(line, ":")
				*rule.field(report) = strings.TrimSpace(rest)
			}
			continue
		}

		if stripped == "" {
			continue
		}
		switch sec {
		case secStatus:
			report.Status += " " + stripped
		case secAction:
			report.Action += " " + stripped
		case secScan:
			report.Scan += " " + stripped
		case secErrors:
			report.Errors += " " + stripped
		case secConfig:
			// Keep raw: the tree parser needs the indentation.
			configLines = append(configLines, line)
		}
	}

	report.Config = parseConfigLines(configLines)
	return report
}

func matchLabel(line string) (labelRule, bool) {
	for _, rule := range labelRules {
		if strings.HasPrefix(line, rule.prefix) {
			return rule, true
		}
	}
	return labelRule{}, false
}

var configHeaderRE = regexp.MustCompile(`^\s*NAME\s+STATE`)

// parseConfigLines rebuilds the vdev tree from the config section.
// Indentation depth is the only structure zpool gives us: each line attaches
// to the nearest line above it with strictly smaller indentation.
//
//	NAME        STATE     READ WRITE CKSUM
//	tank        ONLINE       0     0     0
//	  raidz2-0  ONLINE       0     0     0
//	    sda     ONLINE       0     0     0
//	logs
//	  nvme0n1   ONLINE       0     0     0
func parseConfigLines(lines []string) []*Device {
	devices := []*Device{}

	type stackEntry struct {
		indent int
		dev    *Device
	}
	var stack []stackEntry

	for _, line := range lines {
		if configHeaderRE.MatchString(line) || strings.TrimSpace(line) == "" {
			continue
		}

		stripped := strings.TrimLeft(line, " \t")
		indent := len(line) - len(stripped)
		parts := strings.Fields(stripped)

		dev := &Device{
			ReadErrors:     "0",
			WriteErrors:    "0",
			ChecksumErrors: "0",
			Children:       []*Device{},
		}
		if len(parts) > 0 {
			dev.Name = parts[0]
		}
		if len(parts) > 1 {
			dev.State = parts[1]
		}
		// Trailing counters are absent for group rows ("logs") and for
		// spares in AVAIL state; they default to "0".
		if len(parts) > 2 {
			dev.ReadErrors = parts[2]
		}
		if len(parts) > 3 {
			dev.WriteErrors = parts[3]
		}
		if len(parts) > 4 {
			dev.ChecksumErrors = parts[4]
		}

		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			parent := stack[len(stack)-1].dev
			parent.Children = append(parent.Children, dev)
		} else {
			devices = append(devices, dev)
		}
		stack = append(stack, stackEntry{indent: indent, dev: dev})
	}

	return devices
}
