package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"quaver/internal/queue"
	"quaver/internal/services"
)

// OptionInstrument selects the timbre applied by the instrument mapping
// stage of sheet-to-audio jobs.
const OptionInstrument = "instrument"

// DefaultInstrument is applied when a sheet-to-audio submission omits the
// instrument option.
const DefaultInstrument = "piano"

var instrumentSet = map[string]struct{}{
	"piano":    {},
	"trombone": {},
	"trumpet":  {},
}

// Instruments returns the supported instrument names, sorted.
func Instruments() []string {
	names := make([]string, 0, len(instrumentSet))
	for name := range instrumentSet {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateOptions checks submitted options against the kind's schema. Unknown
// keys and unknown values are rejected so a typo fails at submit rather than
// mid-pipeline. The returned error carries the validation marker.
func ValidateOptions(kind queue.Kind, options map[string]string) error {
	for key, value := range options {
		switch {
		case kind == queue.KindSheetToAudio && key == OptionInstrument:
			if _, ok := instrumentSet[strings.ToLower(strings.TrimSpace(value))]; !ok {
				return services.Wrap(services.ErrValidation, "submit", "validate options",
					fmt.Sprintf("unknown instrument %q (supported: %s)", value, strings.Join(Instruments(), ", ")), nil)
			}
		default:
			return services.Wrap(services.ErrValidation, "submit", "validate options",
				fmt.Sprintf("option %q is not accepted by %s jobs", key, kind), nil)
		}
	}
	return nil
}

// NormalizeOptions lowercases known values and fills schema defaults, such as
// the piano instrument for sheet-to-audio jobs. Call after ValidateOptions.
func NormalizeOptions(kind queue.Kind, options map[string]string) map[string]string {
	normalized := make(map[string]string, len(options)+1)
	for key, value := range options {
		normalized[key] = strings.ToLower(strings.TrimSpace(value))
	}
	if kind == queue.KindSheetToAudio {
		if _, ok := normalized[OptionInstrument]; !ok {
			normalized[OptionInstrument] = DefaultInstrument
		}
	}
	return normalized
}
