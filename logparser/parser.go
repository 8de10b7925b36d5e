package logparser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ChristianF88/heimdall/iputils"
)

// Placeholder expansions. {ip} deliberately matches dotted quads only, the
// whole pipeline is keyed on IPv4.
const (
	ipRegex     = `(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`
	hourRegex   = `(\d?\d)`
	minuteRegex = `(\d?\d)`
)

// Pattern is a compiled log pattern. The Pos* fields are 1-based capture
// group indices into Regex, one per placeholder.
type Pattern struct {
	Regex     *regexp.Regexp
	PosIP     int
	PosHour   int
	PosMinute int
}

// Result holds the values extracted from a matching log line.
type Result struct {
	Hour   uint8
	Minute uint8
	IP     uint32
}

// Compile expands a pattern template into a Pattern and returns the expanded
// regex string alongside it.
//
// Templates are regular expressions with the placeholders {ip}, {h}, {m} and
// {hh:mm:ss}; the last one is shorthand for "{h}:{m}:\d\d" (seconds are not
// captured). Capture positions are located by counting literal '(' characters
// in a parallel expansion, so a template must not contain an escaped paren
// `\(` before a placeholder.
func Compile(template string) (*Pattern, string, error) {
	raw := strings.ReplaceAll(template, "{hh:mm:ss}", `{h}:{m}:\d\d`)

	// Grouping form: only used to count capture positions.
	grouping := strings.NewReplacer(
		"{ip}", "({ip})",
		"{h}", "({h})",
		"{m}", "({m})",
	).Replace(raw)

	expanded := strings.NewReplacer(
		"{ip}", ipRegex,
		"{h}", hourRegex,
		"{m}", minuteRegex,
	).Replace(raw)

	re, err := regexp.Compile(expanded)
	if err != nil {
		return nil, "", fmt.Errorf("invalid regex %q: %w", template, err)
	}

	posIP, err := capturePosition(grouping, template, "{ip}")
	if err != nil {
		return nil, "", err
	}
	posHour, err := capturePosition(grouping, template, "{h}")
	if err != nil {
		return nil, "", err
	}
	posMinute, err := capturePosition(grouping, template, "{m}")
	if err != nil {
		return nil, "", err
	}

	return &Pattern{
		Regex:     re,
		PosIP:     posIP,
		PosHour:   posHour,
		PosMinute: posMinute,
	}, expanded, nil
}

// capturePosition returns the capture group index of needle within the
// grouping form. The count includes the group's own opening paren, which
// makes it the submatch index directly (index 0 is the whole match).
func capturePosition(grouping, template, needle string) (int, error) {
	idx := strings.Index(grouping, needle)
	if idx < 0 {
		return 0, fmt.Errorf("invalid pattern %q: placeholder %s is missing", template, needle)
	}
	return strings.Count(grouping[:idx], "("), nil
}

// Set is an ordered collection of compiled patterns. A line is tested
// against the patterns in configuration order and the first match wins,
// which gives a stable tie-break when several patterns match.
type Set struct {
	patterns []*Pattern
}

// NewSet compiles all templates into a Set. Compilation stops at the first
// bad template.
func NewSet(templates []string) (*Set, error) {
	patterns := make([]*Pattern, 0, len(templates))
	for _, tmpl := range templates {
		p, _, err := Compile(tmpl)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return &Set{patterns: patterns}, nil
}

// Len returns the number of patterns in the set.
func (s *Set) Len() int {
	return len(s.patterns)
}

// Detect tests line against the set. On a match it parses the captured
// hour, minute and IPv4 address. Lines whose captures fail to parse, or
// whose hour/minute fall outside [0,23]/[0,59], are silently ignored.
func (s *Set) Detect(line string) (Result, bool) {
	for _, p := range s.patterns {
		caps := p.Regex.FindStringSubmatch(line)
		if caps == nil {
			continue
		}
		return parseCaptures(p, caps)
	}
	return Result{}, false
}

func parseCaptures(p *Pattern, caps []string) (Result, bool) {
	if p.PosIP >= len(caps) || p.PosHour >= len(caps) || p.PosMinute >= len(caps) {
		return Result{}, false
	}

	hour, err := strconv.ParseUint(caps[p.PosHour], 10, 8)
	if err != nil || hour > 23 {
		return Result{}, false
	}
	minute, err := strconv.ParseUint(caps[p.PosMinute], 10, 8)
	if err != nil || minute > 59 {
		return Result{}, false
	}
	ip, ok := iputils.ParseIPv4(caps[p.PosIP])
	if !ok {
		return Result{}, false
	}

	return Result{Hour: uint8(hour), Minute: uint8(minute), IP: ip}, true
}
