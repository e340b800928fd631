// Package deps reports the availability of the external tool binaries the
// conversion pipelines invoke. The daemon refuses to start without the
// required ones; the doctor command renders the same list for operators.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"quaver/internal/config"
)

// Requirement defines an external binary a pipeline stage invokes.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the external tools the configured pipelines invoke.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	return []Requirement{
		{
			Name:        "Notation recognizer",
			Command:     cfg.Tools.NotationRecognizer.Command,
			Description: "Reads score images into MusicXML",
		},
		{
			Name:        "Score converter",
			Command:     cfg.Tools.ScoreConverter.Command,
			Description: "Converts between MusicXML and MIDI",
		},
		{
			Name:        "Instrument mapper",
			Command:     cfg.Tools.InstrumentMapper.Command,
			Description: "Rewrites MIDI program assignments",
		},
		{
			Name:        "Synthesizer",
			Command:     cfg.Tools.Synthesizer.Command,
			Description: "Renders MIDI into audio",
		},
		{
			Name:        "Transcriber",
			Command:     cfg.Tools.Transcriber.Command,
			Description: "Transcribes audio into MIDI",
		},
		{
			Name:        "Notation renderer",
			Command:     cfg.Tools.NotationRenderer.Command,
			Description: "Engraves MusicXML as PDF notation",
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
