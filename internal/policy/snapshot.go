package policy

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
)

// Definition is the raw, unvalidated policy as loaded from a source.
type Definition struct {
	Thresholds []Threshold       `json:"thresholds" yaml:"thresholds"`
	Rules      []WorkflowRule    `json:"rules" yaml:"rules"`
	Bypasses   []EmergencyBypass `json:"emergencyBypasses" yaml:"emergencyBypasses"`
}

// Snapshot is an immutable, validated policy. Rules are held in evaluation
// order. Reconfiguration builds a new Snapshot; nothing mutates an existing one.
type Snapshot struct {
	Version    int64
	LoadedAt   time.Time
	Thresholds ThresholdTable
	Rules      []WorkflowRule
	Bypasses   BypassTable
}

// NewSnapshot validates a definition and freezes it.
func NewSnapshot(def Definition) (*Snapshot, error) {
	table, err := NewThresholdTable(def.Thresholds)
	if err != nil {
		return nil, err
	}

	bypasses, err := NewBypassTable(def.Bypasses)
	if err != nil {
		return nil, err
	}

	rules := make([]WorkflowRule, len(def.Rules))
	seen := make(map[string]struct{}, len(rules))
	for i, r := range def.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		rules[i] = r.normalized()
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id '%s'", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	return &Snapshot{
		LoadedAt:   time.Now().UTC(),
		Thresholds: table,
		Rules:      rules,
		Bypasses:   bypasses,
	}, nil
}

// Source loads a policy definition.
type Source interface {
	LoadPolicy(ctx context.Context) (*Definition, error)
}

// Store publishes the current snapshot to concurrent readers.
type Store struct {
	current atomic.Pointer[Snapshot]
	version atomic.Int64
}

// NewStore creates a store serving initial.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	initial.Version = s.version.Add(1)
	s.current.Store(initial)
	return s
}

// Current returns the snapshot in effect. Callers keep using the pointer
// they got for the whole evaluation cycle.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Replace validates def and atomically swaps it in.
func (s *Store) Replace(def Definition) (*Snapshot, error) {
	snap, err := NewSnapshot(def)
	if err != nil {
		return nil, err
	}
	snap.Version = s.version.Add(1)
	s.current.Store(snap)
	return snap, nil
}

// Reload pulls a definition from src and swaps it in. On failure the
// current snapshot stays in effect.
func (s *Store) Reload(ctx context.Context, src Source) (*Snapshot, error) {
	def, err := src.LoadPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	return s.Replace(*def)
}

// Watch reloads from src every interval until ctx is done.
func (s *Store) Watch(ctx context.Context, src Source, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := s.Reload(ctx, src)
			if err != nil {
				log.Warn().Err(err).Msg("Policy reload failed; keeping current snapshot")
				continue
			}
			log.Debug().
				Int64("version", snap.Version).
				Int("rules", len(snap.Rules)).
				Int("thresholds", len(snap.Thresholds)).
				Msg("Policy snapshot reloaded")
		}
	}
}
