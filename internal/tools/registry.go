package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"quaver/internal/config"
	"quaver/internal/pipeline"
	"quaver/internal/services"
)

// Registry holds one constructed Tool per pipeline tool role. Construction
// fails when any role referenced by a pipeline definition is missing a
// command, so a misconfigured daemon refuses to start instead of failing
// mid-job.
type Registry struct {
	byID map[pipeline.ToolID]Tool
}

// Option configures registry construction.
type Option func(*registryConfig)

type registryConfig struct {
	exec Executor
}

// WithExecutor injects a custom executor for every tool (primarily for
// tests).
func WithExecutor(exec Executor) Option {
	return func(rc *registryConfig) {
		if exec != nil {
			rc.exec = exec
		}
	}
}

// NewRegistry builds the six tool adapters from configuration and verifies
// them against the pipeline definitions.
func NewRegistry(cfg *config.Config, opts ...Option) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("tools: nil config")
	}
	rc := registryConfig{exec: commandExecutor{}}
	for _, opt := range opts {
		opt(&rc)
	}

	registry := &Registry{byID: make(map[pipeline.ToolID]Tool, len(pipeline.AllToolIDs()))}
	for _, id := range pipeline.AllToolIDs() {
		settings := settingsFor(cfg, id)
		binary := strings.TrimSpace(settings.Command)
		if binary == "" {
			return nil, fmt.Errorf("tools: no command configured for %s", id)
		}
		registry.byID[id] = &commandTool{
			id:        id,
			binary:    binary,
			extraArgs: append([]string(nil), settings.ExtraArgs...),
			timeout:   time.Duration(settings.Timeout) * time.Second,
			attempts:  settings.RetryAttempts,
			buildArgs: builderFor(id),
			locate:    locatorFor(id),
			exec:      rc.exec,
		}
	}

	if err := registry.validate(); err != nil {
		return nil, err
	}
	return registry, nil
}

// validate cross-checks the registry against every pipeline definition.
func (r *Registry) validate() error {
	if err := pipeline.ValidateAll(); err != nil {
		return err
	}
	for _, def := range pipeline.Definitions() {
		for _, stage := range def.Stages {
			if _, ok := r.byID[stage.Tool]; !ok {
				return fmt.Errorf("tools: pipeline %s stage %s references unbound tool %s", def.Kind, stage.Name, stage.Tool)
			}
		}
	}
	return nil
}

// Tool returns the adapter bound to the given role.
func (r *Registry) Tool(id pipeline.ToolID) (Tool, error) {
	tool, ok := r.byID[id]
	if !ok {
		return nil, services.Wrap(services.ErrInternal, string(id), "resolve tool", "tool role is not bound", nil)
	}
	return tool, nil
}

// All returns every tool sorted by role name.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.byID))
	for _, tool := range r.byID {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Health reports readiness for every tool, sorted by role name.
func (r *Registry) Health(ctx context.Context) []Health {
	all := r.All()
	out := make([]Health, 0, len(all))
	for _, tool := range all {
		out = append(out, tool.Health(ctx))
	}
	return out
}

func settingsFor(cfg *config.Config, id pipeline.ToolID) config.ToolSettings {
	switch id {
	case pipeline.ToolNotationRecognizer:
		return cfg.Tools.NotationRecognizer
	case pipeline.ToolScoreConverter:
		return cfg.Tools.ScoreConverter
	case pipeline.ToolInstrumentMapper:
		return cfg.Tools.InstrumentMapper
	case pipeline.ToolSynthesizer:
		return cfg.Tools.Synthesizer
	case pipeline.ToolTranscriber:
		return cfg.Tools.Transcriber
	case pipeline.ToolNotationRenderer:
		return cfg.Tools.NotationRenderer
	default:
		return config.ToolSettings{}
	}
}

// builderFor returns the argument shape each binary expects. Input and
// output always come from the invocation; extra args from config slot in
// where the tool conventionally takes its own options.
func builderFor(id pipeline.ToolID) argsFunc {
	switch id {
	case pipeline.ToolNotationRecognizer:
		// OMR engines export into a directory and pick their own name.
		return func(inv Invocation, extra []string) []string {
			args := []string{"-batch", "-export", "-output", filepath.Dir(inv.OutputPath)}
			args = append(args, extra...)
			return append(args, inv.InputPath)
		}
	case pipeline.ToolScoreConverter:
		return func(inv Invocation, extra []string) []string {
			args := append([]string(nil), extra...)
			return append(args, inv.InputPath, "-o", inv.OutputPath)
		}
	case pipeline.ToolInstrumentMapper:
		return func(inv Invocation, extra []string) []string {
			instrument := inv.Options[pipeline.OptionInstrument]
			if instrument == "" {
				instrument = pipeline.DefaultInstrument
			}
			args := []string{"--instrument", instrument}
			args = append(args, extra...)
			return append(args, inv.InputPath, inv.OutputPath)
		}
	case pipeline.ToolSynthesizer:
		// Soundfont paths ride in as extra args between the options and
		// the MIDI input.
		return func(inv Invocation, extra []string) []string {
			args := []string{"-ni", "-q", "-F", inv.OutputPath}
			args = append(args, extra...)
			return append(args, inv.InputPath)
		}
	case pipeline.ToolTranscriber:
		// Transcribers write <stem>-suffixed MIDI into a directory.
		return func(inv Invocation, extra []string) []string {
			args := []string{filepath.Dir(inv.OutputPath), inv.InputPath}
			return append(args, extra...)
		}
	case pipeline.ToolNotationRenderer:
		return func(inv Invocation, extra []string) []string {
			base := strings.TrimSuffix(inv.OutputPath, filepath.Ext(inv.OutputPath))
			args := []string{"--pdf", "-o", base}
			args = append(args, extra...)
			return append(args, inv.InputPath)
		}
	default:
		return func(inv Invocation, extra []string) []string {
			args := append([]string(nil), extra...)
			return append(args, inv.InputPath, inv.OutputPath)
		}
	}
}

// locatorFor returns the discovery step for tools that name their own
// output files.
func locatorFor(id pipeline.ToolID) locateFunc {
	switch id {
	case pipeline.ToolNotationRecognizer:
		return func(inv Invocation) error {
			return adoptByExtension(inv.OutputPath, ".musicxml", ".xml", ".mxl")
		}
	case pipeline.ToolTranscriber:
		return func(inv Invocation) error {
			return adoptByExtension(inv.OutputPath, ".mid", ".midi")
		}
	default:
		return nil
	}
}

// adoptByExtension finds the largest file with one of the extensions in the
// target's directory and renames it to the target. The preference order of
// exts breaks ties between formats.
func adoptByExtension(target string, exts ...string) error {
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	dir := filepath.Dir(target)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scan output dir: %w", err)
	}

	var (
		bestPath string
		bestRank = len(exts)
		bestSize int64 = -1
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		rank := -1
		for i, candidate := range exts {
			if ext == candidate {
				rank = i
				break
			}
		}
		if rank < 0 {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if rank < bestRank || (rank == bestRank && info.Size() > bestSize) {
			bestRank = rank
			bestSize = info.Size()
			bestPath = filepath.Join(dir, entry.Name())
		}
	}
	if bestPath == "" {
		return fmt.Errorf("no %s output found in %s", strings.Join(exts, "/"), dir)
	}
	return os.Rename(bestPath, target)
}
