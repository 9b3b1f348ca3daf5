package vertical

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxion/voice-agent/internal/entities"
	"github.com/fluxion/voice-agent/internal/faq"
	"github.com/fluxion/voice-agent/pkg/logging"
)

const configFile = "config.json"

// VariableSource supplies dynamic template variables (business settings)
// resolved at render time.
type VariableSource interface {
	Variables(ctx context.Context) (map[string]string, error)
}

// Answer is a rendered FAQ answer.
type Answer struct {
	Text       string
	EntryID    string
	Source     faq.Source
	Confidence float64
}

type snapshot struct {
	configs map[string]*Config
	indexes map[string]*faq.Index
}

// Option configures a Registry.
type Option func(*Registry)

// WithEmbedder enables the semantic FAQ pass for every vertical.
func WithEmbedder(e faq.Embedder) Option {
	return func(r *Registry) { r.embedder = e }
}

// WithVariableSource sets the dynamic variable provider.
func WithVariableSource(src VariableSource) Option {
	return func(r *Registry) { r.settings = src }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Registry serves vertical configs. Readers never block: every load builds
// a new snapshot and swaps it in atomically.
type Registry struct {
	root     string
	logger   *logging.Logger
	embedder faq.Embedder
	settings VariableSource

	writeMu sync.Mutex
	snap    atomic.Pointer[snapshot]
}

// NewRegistry creates an empty registry reading from root.
func NewRegistry(root string, opts ...Option) *Registry {
	r := &Registry{root: root}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.Default()
	}
	r.snap.Store(&snapshot{configs: map[string]*Config{}, indexes: map[string]*faq.Index{}})
	return r
}

// LoadAll reads every subdirectory of the root holding a config.json and
// replaces the served set. Any invalid config aborts the whole load.
func (r *Registry) LoadAll() error {
	dirs, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("vertical: read %s: %w", r.root, err)
	}
	next := &snapshot{configs: map[string]*Config{}, indexes: map[string]*faq.Index{}}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		path := filepath.Join(r.root, d.Name(), configFile)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := readConfig(path)
		if err != nil {
			return err
		}
		next.configs[cfg.Name] = cfg
		next.indexes[cfg.Name] = r.newIndex(cfg)
	}
	if len(next.configs) == 0 {
		return fmt.Errorf("%w: no verticals under %s", ErrInvalidConfig, r.root)
	}

	r.writeMu.Lock()
	r.snap.Store(next)
	r.writeMu.Unlock()
	r.logger.Info("verticals loaded", "count", len(next.configs), "path", r.root)
	return nil
}

// Reload is LoadAll under another name, for the admin surface.
func (r *Registry) Reload() error { return r.LoadAll() }

// Load reads one vertical from disk and adds or replaces it.
func (r *Registry) Load(name string) (*Config, error) {
	cfg, err := readConfig(filepath.Join(r.root, name, configFile))
	if err != nil {
		return nil, err
	}
	r.Put(cfg)
	return cfg, nil
}

// Put installs cfg, replacing any vertical with the same name. cfg must
// already be valid.
func (r *Registry) Put(cfg *Config) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	cur := r.snap.Load()
	next := &snapshot{
		configs: make(map[string]*Config, len(cur.configs)+1),
		indexes: make(map[string]*faq.Index, len(cur.indexes)+1),
	}
	for k, v := range cur.configs {
		next.configs[k] = v
	}
	for k, v := range cur.indexes {
		next.indexes[k] = v
	}
	next.configs[cfg.Name] = cfg
	next.indexes[cfg.Name] = r.newIndex(cfg)
	r.snap.Store(next)
}

func (r *Registry) newIndex(cfg *Config) *faq.Index {
	opts := []faq.Option{faq.WithLogger(r.logger), faq.WithServiceTerms(cfg.ServiceTerms())}
	if r.embedder != nil {
		opts = append(opts, faq.WithEmbedder(r.embedder))
	}
	return faq.NewIndex(cfg.FAQ, opts...)
}

func readConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vertical: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the config of name.
func (r *Registry) Get(name string) (*Config, bool) {
	cfg, ok := r.snap.Load().configs[name]
	return cfg, ok
}

// List returns the loaded vertical names, sorted.
func (r *Registry) List() []string {
	snap := r.snap.Load()
	out := make([]string, 0, len(snap.configs))
	for name := range snap.configs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SearchFAQ finds and renders the best FAQ answer for query.
func (r *Registry) SearchFAQ(ctx context.Context, name, query string) (Answer, bool) {
	snap := r.snap.Load()
	cfg, ok := snap.configs[name]
	if !ok {
		return Answer{}, false
	}
	m, ok := snap.indexes[name].Find(ctx, query)
	if !ok {
		return Answer{}, false
	}
	return Answer{
		Text:       r.render(ctx, cfg, Template(m.Entry.Answer), nil),
		EntryID:    m.Entry.ID,
		Source:     m.Source,
		Confidence: m.Confidence,
	}, true
}

// RenderResponse renders responses[key]. The boolean is false when the key
// is not defined.
func (r *Registry) RenderResponse(ctx context.Context, name, key string, vars map[string]string) (string, bool) {
	cfg, ok := r.Get(name)
	if !ok {
		return "", false
	}
	tpl, ok := cfg.Responses[key]
	if !ok {
		return "", false
	}
	return r.render(ctx, cfg, tpl, vars), true
}

// RenderFAQAnswer renders an FAQ entry's answer.
func (r *Registry) RenderFAQAnswer(ctx context.Context, name string, entry faq.Entry, vars map[string]string) string {
	cfg, ok := r.Get(name)
	if !ok {
		return Template(entry.Answer).Render(vars)
	}
	return r.render(ctx, cfg, Template(entry.Answer), vars)
}

// render resolves placeholders from vars, then dynamic settings, then the
// vertical's static variables.
func (r *Registry) render(ctx context.Context, cfg *Config, tpl Template, vars map[string]string) string {
	var dynamic map[string]string
	if r.settings != nil && len(tpl.Variables()) > 0 {
		d, err := r.settings.Variables(ctx)
		if err != nil {
			r.logger.Warn("dynamic variables unavailable", "vertical", cfg.Name, "error", err)
		}
		dynamic = d
	}
	return tpl.Render(vars, dynamic, cfg.Variables)
}

// RequiredSlots returns the required slot names of an intent.
func (r *Registry) RequiredSlots(name, intentID string) []string {
	cfg, ok := r.Get(name)
	if !ok {
		return nil
	}
	for _, in := range cfg.Intents {
		if in.ID == intentID || string(in.Category) == intentID {
			return append([]string{}, in.RequiredSlots...)
		}
	}
	return nil
}

// ValidateSlotValue checks value against the slot spec.
func (r *Registry) ValidateSlotValue(name, slot, value string) error {
	cfg, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	spec, ok := cfg.Slots[slot]
	if !ok {
		return fmt.Errorf("%w: unknown slot %q", ErrInvalidSlotValue, slot)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidSlotValue, slot)
	}

	switch spec.Type {
	case SlotCategorical:
		allowed := spec.Values
		if len(allowed) == 0 && slot == "service" {
			allowed = cfg.ServiceVocabulary().Keys()
		}
		for _, v := range allowed {
			if strings.EqualFold(v, value) {
				return nil
			}
		}
		return fmt.Errorf("%w: %s=%q not in %v", ErrInvalidSlotValue, slot, value, allowed)
	case SlotNumber:
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidSlotValue, slot, value)
		}
		if spec.Min != nil && n < *spec.Min {
			return fmt.Errorf("%w: %s below %v", ErrInvalidSlotValue, slot, *spec.Min)
		}
		if spec.Max != nil && n > *spec.Max {
			return fmt.Errorf("%w: %s above %v", ErrInvalidSlotValue, slot, *spec.Max)
		}
	case SlotDate:
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return fmt.Errorf("%w: %s=%q is not YYYY-MM-DD", ErrInvalidSlotValue, slot, value)
		}
	case SlotTime:
		if _, err := entities.ParseHHMM(value); err != nil {
			return fmt.Errorf("%w: %s=%q is not HH:MM", ErrInvalidSlotValue, slot, value)
		}
	}
	return nil
}
