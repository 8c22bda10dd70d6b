package program

import (
	"math"
	"strconv"
	"strings"

	"chromahost/pkg/errors"
)

// ParseFlowRate parses a flow rate with an optional "ml/min" suffix.
func ParseFlowRate(text string) (float64, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "ml/min")
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, errors.Wrap(errors.ErrProtocol, err, "invalid flow rate %q", text)
	}
	return v, nil
}

// ParseVolume parses a volume with an optional "ml" suffix. An empty
// string means unbounded (+Inf).
func ParseVolume(text string) (float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return math.Inf(1), nil
	}
	text = strings.TrimSuffix(text, "ml")
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, errors.Wrap(errors.ErrProtocol, err, "invalid volume %q", text)
	}
	return v, nil
}

// ParseDuration parses a time string into seconds. Supported notations:
// composite integer units in h/m/s order ("2h30m", "45s"), decimal hours
// as a leading special case ("1.2h" = 4320s), and bare numbers taken as
// seconds. An empty string, an unparsable string, or anything that
// accumulates to zero total seconds yields +Inf: a zero-length step is
// meaningless, so zero collapses to "no limit" rather than "immediately
// expires".
func ParseDuration(text string) float64 {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return math.Inf(1)
	}

	total := 0

	// Decimal hours first ("1.2h"), before integer-unit parsing.
	if strings.Contains(text, "h") && strings.Contains(text, ".") {
		head, tail, _ := strings.Cut(text, "h")
		if hours, err := strconv.ParseFloat(head, 64); err == nil {
			total += int(hours * 3600)
			text = tail
		}
	}

	if strings.Contains(text, "h") {
		head, tail, _ := strings.Cut(text, "h")
		if hours, err := strconv.Atoi(head); err == nil {
			total += hours * 3600
		}
		text = tail
	}

	if strings.Contains(text, "m") {
		head, tail, _ := strings.Cut(text, "m")
		if minutes, err := strconv.Atoi(head); err == nil {
			total += minutes * 60
		}
		text = tail
	}

	if strings.Contains(text, "s") {
		head, _, _ := strings.Cut(text, "s")
		if seconds, err := strconv.Atoi(head); err == nil {
			total += seconds
		}
	}

	// No units at all: bare number of seconds.
	if total == 0 && text != "" {
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			total = int(v)
		}
	}

	if total <= 0 {
		return math.Inf(1)
	}
	return float64(total)
}

// lookupValve resolves a name to its 0-based valve id by scanning slots
// in ascending order, so a name occupying two slots always resolves to
// the lowest one.
func lookupValve(name string, table map[int]string, capacity int) (uint8, bool) {
	for slot := 1; slot <= capacity; slot++ {
		if n, ok := table[slot]; ok && n == name {
			return SlotToID(slot), true
		}
	}
	return 0, false
}

// Lower converts declarative steps to device-ready steps, resolving
// reagent/column names against the given tables.
func Lower(specs []StepSpec, reagents, columns map[int]string) ([]ProgramStep, error) {
	steps := make([]ProgramStep, 0, len(specs))
	for i, spec := range specs {
		switch {
		case spec.Flush != nil:
			f := spec.Flush
			reagentID, ok := lookupValve(f.Reagent, reagents, MaxReagents)
			if !ok {
				return nil, errors.NameResolution("step %d: reagent %q not found", i+1, f.Reagent)
			}
			columnID, ok := lookupValve(f.Column, columns, MaxColumns)
			if !ok {
				return nil, errors.NameResolution("step %d: column %q not found", i+1, f.Column)
			}
			flow, err := ParseFlowRate(f.FlowRate)
			if err != nil {
				return nil, err
			}
			volume, err := ParseVolume(f.Volume)
			if err != nil {
				return nil, err
			}
			steps = append(steps, ProgramStep{
				ReagentValveID: reagentID,
				ColumnValveID:  columnID,
				FlowRate:       float32(flow),
				Volume:         float32(volume),
				Duration:       float32(ParseDuration(f.Duration)),
			})

		case spec.Sleep != nil:
			steps = append(steps, ProgramStep{
				ReagentValveID: SentinelValve,
				ColumnValveID:  SentinelValve,
				FlowRate:       0,
				Volume:         float32(math.Inf(1)),
				Duration:       float32(ParseDuration(spec.Sleep.Duration)),
			})

		default:
			return nil, errors.Protocol("step %d: neither flush nor sleep", i+1)
		}
	}
	return steps, nil
}
