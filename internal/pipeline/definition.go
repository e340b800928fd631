package pipeline

import (
	"fmt"

	"quaver/internal/queue"
)

// ToolID names one of the external collaborators a stage invokes. The set is
// closed; the tool registry refuses to start unless every id resolves to a
// configured command.
type ToolID string

const (
	ToolNotationRecognizer ToolID = "notation-recognizer"
	ToolScoreConverter     ToolID = "score-converter"
	ToolInstrumentMapper   ToolID = "instrument-mapper"
	ToolSynthesizer        ToolID = "synthesizer"
	ToolTranscriber        ToolID = "transcriber"
	ToolNotationRenderer   ToolID = "notation-renderer"
)

// AllToolIDs returns the closed set of tool identifiers, in pipeline order.
func AllToolIDs() []ToolID {
	return []ToolID{
		ToolNotationRecognizer,
		ToolScoreConverter,
		ToolInstrumentMapper,
		ToolSynthesizer,
		ToolTranscriber,
		ToolNotationRenderer,
	}
}

// StageDef declares one step of a pipeline: its name, the tool it invokes,
// and the artifact kinds it consumes and produces.
type StageDef struct {
	Name   string
	Tool   ToolID
	Input  ArtifactKind
	Output ArtifactKind
}

// Definition is a complete conversion pipeline for one job kind. Source is
// the artifact kind a submission must provide.
type Definition struct {
	Kind   queue.Kind
	Source ArtifactKind
	Stages []StageDef
}

var sheetToAudio = Definition{
	Kind:   queue.KindSheetToAudio,
	Source: ArtifactScoreImage,
	Stages: []StageDef{
		{Name: "recognize-notation", Tool: ToolNotationRecognizer, Input: ArtifactScoreImage, Output: ArtifactMusicXML},
		{Name: "convert-score", Tool: ToolScoreConverter, Input: ArtifactMusicXML, Output: ArtifactMIDI},
		{Name: "map-instruments", Tool: ToolInstrumentMapper, Input: ArtifactMIDI, Output: ArtifactMIDI},
		{Name: "synthesize-audio", Tool: ToolSynthesizer, Input: ArtifactMIDI, Output: ArtifactAudio},
	},
}

var audioToSheet = Definition{
	Kind:   queue.KindAudioToSheet,
	Source: ArtifactAudio,
	Stages: []StageDef{
		{Name: "transcribe-audio", Tool: ToolTranscriber, Input: ArtifactAudio, Output: ArtifactMIDI},
		{Name: "convert-notes", Tool: ToolScoreConverter, Input: ArtifactMIDI, Output: ArtifactMusicXML},
		{Name: "render-notation", Tool: ToolNotationRenderer, Input: ArtifactMusicXML, Output: ArtifactNotationPDF},
	},
}

// Definitions returns both fixed pipelines.
func Definitions() []Definition {
	return []Definition{sheetToAudio, audioToSheet}
}

// DefinitionFor returns the pipeline definition for a job kind.
func DefinitionFor(kind queue.Kind) (Definition, error) {
	switch kind {
	case queue.KindSheetToAudio:
		return sheetToAudio, nil
	case queue.KindAudioToSheet:
		return audioToSheet, nil
	default:
		return Definition{}, fmt.Errorf("unknown job kind %q", kind)
	}
}

// Validate checks the definition's internal consistency: at least one stage,
// unique stage names, and an artifact chain where every stage consumes
// exactly what its predecessor produces.
func (d Definition) Validate() error {
	if d.Kind == "" {
		return fmt.Errorf("pipeline has no kind")
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("pipeline %s has no stages", d.Kind)
	}
	seen := make(map[string]struct{}, len(d.Stages))
	previous := d.Source
	for i, stage := range d.Stages {
		if stage.Name == "" {
			return fmt.Errorf("pipeline %s: stage %d has no name", d.Kind, i)
		}
		if _, dup := seen[stage.Name]; dup {
			return fmt.Errorf("pipeline %s: duplicate stage name %q", d.Kind, stage.Name)
		}
		seen[stage.Name] = struct{}{}
		if stage.Tool == "" {
			return fmt.Errorf("pipeline %s: stage %q has no tool", d.Kind, stage.Name)
		}
		if stage.Input != previous {
			return fmt.Errorf("pipeline %s: stage %q consumes %s but %s is available",
				d.Kind, stage.Name, stage.Input, previous)
		}
		previous = stage.Output
	}
	return nil
}

// ValidateAll validates every fixed definition. The daemon calls it once at
// startup and refuses to run on failure.
func ValidateAll() error {
	for _, def := range Definitions() {
		if err := def.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FinalKind returns the artifact kind the pipeline ultimately produces.
func (d Definition) FinalKind() ArtifactKind {
	if len(d.Stages) == 0 {
		return ""
	}
	return d.Stages[len(d.Stages)-1].Output
}

// PlanStages converts the definition into fresh pending stage records for a
// new job.
func (d Definition) PlanStages() []queue.StageRecord {
	records := make([]queue.StageRecord, len(d.Stages))
	for i, stage := range d.Stages {
		records[i] = queue.StageRecord{
			Name:   stage.Name,
			Tool:   string(stage.Tool),
			Status: queue.StagePending,
		}
	}
	return records
}
