package tuning

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Patch replaces whole entries of the override catalog. Nil or empty fields are left untouched.
type Patch struct {
	Override    *bool                     `json:"override,omitempty" yaml:"override,omitempty"`
	Projectiles map[string]ProjectileSpec `json:"projectiles,omitempty" yaml:"projectiles,omitempty"`
	Abilities   map[string]AbilitySpec    `json:"abilities,omitempty" yaml:"abilities,omitempty"`
	Player      *PlayerSpec               `json:"player,omitempty" yaml:"player,omitempty"`
}

// Empty reports whether applying the patch would change nothing.
func (p Patch) Empty() bool {
	return p.Override == nil && len(p.Projectiles) == 0 && len(p.Abilities) == 0 && p.Player == nil
}

// Snapshot is the effective tuning at one version.
type Snapshot struct {
	Version  uint64  `json:"version"`
	Override bool    `json:"override"`
	Catalog  Catalog `json:"catalog"`
}

// PanelOption configures optional Panel behaviour at construction time.
type PanelOption func(*Panel)

// WithOverride enables or disables the developer override switch.
func WithOverride(enabled bool) PanelOption {
	return func(p *Panel) { p.enabled = enabled }
}

// WithPersistPath stores every applied patch as YAML at path.
func WithPersistPath(path string) PanelOption {
	return func(p *Panel) { p.path = path }
}

// WithChannel replaces the fire channel of both the baked and the override catalog. The
// server operator sets it once at startup.
func WithChannel(channel time.Duration) PanelOption {
	return func(p *Panel) {
		if channel < 0 {
			return
		}
		p.baked.Player.ChannelSeconds = channel.Seconds()
		p.override.Player.ChannelSeconds = channel.Seconds()
	}
}

// Panel is the developer override channel. When the override switch is off every caller sees
// the baked catalog; when it is on they see the edited copy.
type Panel struct {
	mu        sync.RWMutex
	baked     Catalog
	override  Catalog
	enabled   bool
	version   uint64
	path      string
	listeners map[uint64]func(Snapshot)
	nextID    uint64
}

// NewPanel constructs a panel whose override starts as a copy of baked.
func NewPanel(baked Catalog, opts ...PanelOption) *Panel {
	panel := &Panel{
		baked:     baked.Clone(),
		override:  baked.Clone(),
		version:   1,
		listeners: make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(panel)
		}
	}
	return panel
}

// LoadPanel builds a panel over the baked catalog and applies the YAML override file at path
// when it exists.
func LoadPanel(path string, enabled bool, opts ...PanelOption) (*Panel, error) {
	panel := NewPanel(Baked(), append([]PanelOption{WithOverride(enabled), WithPersistPath(path)}, opts...)...)
	if path == "" {
		return panel, nil
	}
	//1.- A missing file simply means nothing has been tuned yet.
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return panel, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tuning file: %w", err)
	}
	//2.- Decode the stored patch and apply it without rewriting the file.
	var patch Patch
	if err := yaml.Unmarshal(data, &patch); err != nil {
		return nil, fmt.Errorf("decode tuning file: %w", err)
	}
	panel.mu.Lock()
	err = panel.applyLocked(patch)
	panel.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return panel, nil
}

// Current returns the effective tuning.
func (p *Panel) Current() Snapshot {
	if p == nil {
		return Snapshot{Catalog: Baked()}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

// Catalog returns the effective catalog.
func (p *Panel) Catalog() Catalog { return p.Current().Catalog }

// Apply validates and merges patch, persists the result and notifies subscribers.
func (p *Panel) Apply(patch Patch) (Snapshot, error) {
	if p == nil {
		return Snapshot{}, errors.New("panel is nil")
	}
	if patch.Empty() {
		return p.Current(), nil
	}
	p.mu.Lock()
	if err := p.applyLocked(patch); err != nil {
		p.mu.Unlock()
		return Snapshot{}, err
	}
	if err := p.persistLocked(); err != nil {
		p.mu.Unlock()
		return Snapshot{}, err
	}
	snapshot := p.snapshotLocked()
	listeners := p.listenersLocked()
	p.mu.Unlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
	return snapshot, nil
}

// Subscribe registers listener for every applied patch.
func (p *Panel) Subscribe(listener func(Snapshot)) (unsubscribe func()) {
	if p == nil || listener == nil {
		return func() {}
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = listener
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Panel) applyLocked(patch Patch) error {
	//1.- Validate on a scratch copy so a bad entry leaves the panel untouched.
	next := p.override.Clone()
	for name, spec := range patch.Projectiles {
		next.Projectiles[name] = spec.clone()
	}
	for name, spec := range patch.Abilities {
		next.Abilities[name] = spec.clone()
	}
	if patch.Player != nil {
		if patch.Player.MoveSpeed <= 0 || patch.Player.ChannelSeconds < 0 || patch.Player.MaxHealth <= 0 {
			return fmt.Errorf("%w: player values out of range", ErrInvalidSpec)
		}
		next.Player = *patch.Player
	}
	if err := next.Validate(); err != nil {
		return err
	}
	//2.- Commit and bump the version so observers can detect stale copies.
	p.override = next
	if patch.Override != nil {
		p.enabled = *patch.Override
	}
	p.version++
	return nil
}

func (p *Panel) persistLocked() error {
	if p.path == "" {
		return nil
	}
	enabled := p.enabled
	document := Patch{
		Override:    &enabled,
		Projectiles: p.override.Projectiles,
		Abilities:   p.override.Abilities,
		Player:      &p.override.Player,
	}
	data, err := yaml.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode tuning file: %w", err)
	}
	//1.- Write through a temp file so a crash never leaves a truncated override behind.
	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".tuning-*.yaml")
	if err != nil {
		return fmt.Errorf("create tuning file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write tuning file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close tuning file: %w", err)
	}
	return os.Rename(tmp.Name(), p.path)
}

func (p *Panel) snapshotLocked() Snapshot {
	catalog := p.baked
	if p.enabled {
		catalog = p.override
	}
	return Snapshot{Version: p.version, Override: p.enabled, Catalog: catalog.Clone()}
}

func (p *Panel) listenersLocked() []func(Snapshot) {
	ids := make([]uint64, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, p.listeners[id])
	}
	return listeners
}
