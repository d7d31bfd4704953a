package host

import (
	"fmt"
	"strconv"
	"strings"
)

// Source is one row of `pactl list short sources`.
type Source struct {
	Index    int
	Name     string
	Driver   string
	Format   string
	Channels int
	Rate     int
	State    string
}

// parseShortSources parses the tab-separated output of
// `pactl list short sources`. Lines that do not have the expected
// column count are skipped rather than failing the whole listing.
func parseShortSources(out string) []Source {
	var sources []Source
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 5 {
			continue
		}

		idx, err := strconv.Atoi(cols[0])
		if err != nil {
			continue
		}

		src := Source{
			Index:  idx,
			Name:   cols[1],
			Driver: cols[2],
			State:  cols[4],
		}
		src.Format, src.Channels, src.Rate = parseSampleSpec(cols[3])
		sources = append(sources, src)
	}
	return sources
}

// parseSampleSpec parses a spec like "s16le 2ch 44100Hz".
func parseSampleSpec(spec string) (format string, channels, rate int) {
	fields := strings.Fields(spec)
	for _, f := range fields {
		switch {
		case strings.HasSuffix(f, "ch"):
			if n, err := strconv.Atoi(strings.TrimSuffix(f, "ch")); err == nil {
				channels = n
			}
		case strings.HasSuffix(f, "Hz"):
			if n, err := strconv.Atoi(strings.TrimSuffix(f, "Hz")); err == nil {
				rate = n
			}
		default:
			if format == "" {
				format = f
			}
		}
	}
	return format, channels, rate
}

// matchSource finds name among the sources. An exact match wins; a
// sink name is accepted by trying its monitor source, so users can
// name the output they hear instead of the capture source behind it.
func matchSource(sources []Source, name string) (Source, bool) {
	for _, s := range sources {
		if s.Name == name {
			return s, true
		}
	}
	monitor := name + ".monitor"
	for _, s := range sources {
		if s.Name == monitor {
			return s, true
		}
	}
	return Source{}, false
}

// validateModuleID checks the stdout of `pactl load-module`, which
// prints the numeric module index on success.
func validateModuleID(out string) (string, error) {
	id := strings.TrimSpace(out)
	if id == "" {
		return "", fmt.Errorf("host: load-module returned no module id")
	}
	if _, err := strconv.Atoi(id); err != nil {
		return "", fmt.Errorf("host: unexpected load-module output %q", id)
	}
	return id, nil
}
