// Package persona loads agent personas from YAML files.
//
// A persona maps an agent id to the system prompt, model, driver and tool
// policy a session runs with. Files live in one directory, one persona per
// file or a list under "personas:". Missing fields are filled from the
// registry defaults, and the directory can be watched for changes.
package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"dario.cat/mergo"
	"github.com/rockbite/localforge/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultID names the persona used when a session has no agent id.
const DefaultID = "default"

const maxFileSize = 1 << 20

// DefaultSystemPrompt is the prompt of the built-in default persona.
const DefaultSystemPrompt = `You are a coding assistant working inside the user's project directory.
Use the available tools to inspect and change files, run commands and keep the task list current.
Prefer small verifiable steps and report what you changed.`

// ErrNotFound is returned for an unknown persona id.
var ErrNotFound = errors.New("persona: not found")

// Persona is one agent configuration.
type Persona struct {
	ID              string                  `yaml:"id" json:"id"`
	Name            string                  `yaml:"name,omitempty" json:"name,omitempty"`
	Description     string                  `yaml:"description,omitempty" json:"description,omitempty"`
	SystemPrompt    string                  `yaml:"system_prompt,omitempty" json:"systemPrompt,omitempty"`
	Driver          string                  `yaml:"driver,omitempty" json:"driver,omitempty"`
	Model           string                  `yaml:"model,omitempty" json:"model,omitempty"`
	HintModel       string                  `yaml:"hint_model,omitempty" json:"hintModel,omitempty"`
	Temperature     *float64                `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxOutputTokens int                     `yaml:"max_output_tokens,omitempty" json:"maxOutputTokens,omitempty"`
	Tools           toolexecutor.ToolPolicy `yaml:"tools,omitempty" json:"tools"`
	// Source is the file the persona was loaded from; empty for built-ins.
	Source string `yaml:"-" json:"source,omitempty"`
}

// Policy returns the tool policy, allowing every tool when none is set.
func (p Persona) Policy() *toolexecutor.ToolPolicy {
	if len(p.Tools.Allow) == 0 && len(p.Tools.Deny) == 0 {
		return nil
	}
	policy := p.Tools
	if len(policy.Allow) == 0 {
		policy.Allow = []string{"*"}
	}
	return &policy
}

type personaFile struct {
	Persona  `yaml:",inline"`
	Personas []Persona `yaml:"personas"`
}

// Config configures a Registry.
type Config struct {
	// Dir holds persona files. Empty means only the built-in default.
	Dir string
	// Defaults fill fields a persona file leaves empty.
	Defaults Persona
	Logger   *zerolog.Logger
}

// Registry holds the loaded personas.
type Registry struct {
	dir      string
	defaults Persona
	logger   zerolog.Logger

	mu       sync.RWMutex
	personas map[string]Persona

	watchMu sync.Mutex
	watcher *watcher

	listenMu  sync.RWMutex
	listeners []func(ids []string)
}

// NewRegistry creates a registry holding the built-in default persona.
// Call Load to read Dir.
func NewRegistry(cfg Config) *Registry {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	defaults := cfg.Defaults
	if defaults.SystemPrompt == "" {
		defaults.SystemPrompt = DefaultSystemPrompt
	}

	r := &Registry{
		dir:      cfg.Dir,
		defaults: defaults,
		logger:   logger.With().Str("component", "persona").Logger(),
	}
	r.personas = r.builtins()
	return r
}

func (r *Registry) builtins() map[string]Persona {
	def := r.defaults
	def.ID = DefaultID
	if def.Name == "" {
		def.Name = "Default"
	}
	def.Source = ""
	return map[string]Persona{DefaultID: def}
}

// Load reads every *.yaml and *.yml file of the directory, replacing the
// loaded set. A broken file is skipped and reported in the returned error;
// the other files still load.
func (r *Registry) Load() error {
	personas := r.builtins()
	if r.dir == "" {
		r.swap(personas)
		return nil
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.swap(personas)
			return nil
		}
		return fmt.Errorf("failed to read persona directory: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isPersonaFile(entry.Name()) {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		loaded, err := r.loadFile(path)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("Skipping persona file")
			errs = append(errs, err)
			continue
		}
		for _, p := range loaded {
			if prev, dup := personas[p.ID]; dup && prev.Source != "" {
				errs = append(errs, fmt.Errorf("%s: persona %q already defined in %s", path, p.ID, prev.Source))
				continue
			}
			personas[p.ID] = p
		}
	}

	r.swap(personas)
	r.logger.Info().Int("count", len(personas)).Str("dir", r.dir).Msg("Personas loaded")
	return errors.Join(errs...)
}

func (r *Registry) swap(personas map[string]Persona) {
	r.mu.Lock()
	r.personas = personas
	r.mu.Unlock()

	ids := make([]string, 0, len(personas))
	for id := range personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	r.listenMu.RLock()
	listeners := append([]func([]string){}, r.listeners...)
	r.listenMu.RUnlock()
	for _, fn := range listeners {
		fn(ids)
	}
}

func isPersonaFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func (r *Registry) loadFile(path string) ([]Persona, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("%s: file size %d exceeds maximum %d", path, info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file personaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	list := file.Personas
	if len(list) == 0 {
		p := file.Persona
		if p.ID == "" {
			p.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		list = []Persona{p}
	}

	out := make([]Persona, 0, len(list))
	for i, p := range list {
		if p.ID == "" {
			return nil, fmt.Errorf("%s: persona %d has no id", path, i)
		}
		if err := mergo.Merge(&p, r.defaults); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := validate(p); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		p.Source = path
		out = append(out, p)
	}
	return out, nil
}

func validate(p Persona) error {
	if strings.ContainsAny(p.ID, " /\\") {
		return fmt.Errorf("persona id %q must not contain spaces or slashes", p.ID)
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return fmt.Errorf("persona %q: temperature must be between 0 and 2", p.ID)
	}
	if p.MaxOutputTokens < 0 {
		return fmt.Errorf("persona %q: max_output_tokens cannot be negative", p.ID)
	}
	return nil
}

// Get returns the persona with the given id.
func (r *Registry) Get(id string) (Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.personas[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// Resolve returns the persona for id, falling back to the default persona
// for an empty or unknown id.
func (r *Registry) Resolve(id string) Persona {
	if id != "" {
		if p, err := r.Get(id); err == nil {
			return p
		}
		r.logger.Debug().Str("agentId", id).Msg("Unknown persona, using default")
	}
	p, _ := r.Get(DefaultID)
	return p
}

// List returns all personas sorted by id.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnReload registers fn to run with the sorted persona ids after every load.
func (r *Registry) OnReload(fn func(ids []string)) {
	r.listenMu.Lock()
	defer r.listenMu.Unlock()
	r.listeners = append(r.listeners, fn)
}
