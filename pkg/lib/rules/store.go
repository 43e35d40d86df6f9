// Package rules persists the process names a user approved for automatic
// termination when they block an ejection.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/antler-hat/devolume/pkg/lib"
	"github.com/antler-hat/devolume/pkg/lib/notify"
	"github.com/antler-hat/devolume/pkg/lib/settings"
)

// StorageKey is the settings key holding the identifier → display name map.
const StorageKey = "ProcessRuleStore.savedRules"

var logger = zerolog.Nop()

// SetLogger replaces the package logger, which discards by default.
func SetLogger(l zerolog.Logger) {
	logger = l.With().Str("component", "rules").Logger()
}

// Store is the single writer of the persisted rule set. Mutations are
// serialized; every mutation reads, modifies and replaces the whole map.
type Store struct {
	mu          sync.Mutex
	settings    settings.Store
	broadcaster *notify.Broadcaster[struct{}]
}

// NewStore creates a rule store backed by s.
func NewStore(s settings.Store) *Store {
	return &Store{
		settings:    s,
		broadcaster: notify.RunNewBroadcaster[struct{}](),
	}
}

// Close stops change notifications and closes subscriber channels.
func (store *Store) Close() {
	store.broadcaster.Stop()
}

// Changes subscribes to change notifications. One value is sent after every
// mutation that actually changed the set; bursts may coalesce.
func (store *Store) Changes() (chan struct{}, error) {
	return store.broadcaster.Subscribe()
}

// Unsubscribe stops delivery to a channel returned by Changes.
func (store *Store) Unsubscribe(ch chan struct{}) {
	store.broadcaster.Unsubscribe(ch)
}

// AllRules returns every rule ordered by display name, case-insensitively.
func (store *Store) AllRules() []lib.ProcessRule {
	store.mu.Lock()
	dictionary := store.load()
	store.mu.Unlock()

	rules := make([]lib.ProcessRule, 0, len(dictionary))
	for identifier, displayName := range dictionary {
		rules = append(rules, lib.ProcessRule{Identifier: identifier, DisplayName: displayName})
	}
	sort.Slice(rules, func(i, j int) bool {
		if c := lib.CompareNames(rules[i].DisplayName, rules[j].DisplayName); c != 0 {
			return c < 0
		}
		return rules[i].Identifier < rules[j].Identifier
	})
	return rules
}

// AddRules records a rule for each process name not already present. The
// first display name seen for an identifier is kept. Blank names are skipped.
func (store *Store) AddRules(processes []lib.ProcessInfo) error {
	names := make([]string, len(processes))
	for i, p := range processes {
		names[i] = p.Name
	}
	return store.AddRule(names...)
}

// AddRule is AddRules for bare process names.
func (store *Store) AddRule(names ...string) error {
	if len(names) == 0 {
		return nil
	}
	return store.mutate(func(dictionary map[string]string) bool {
		changed := false
		for _, name := range names {
			displayName := SanitizedDisplayName(name)
			if displayName == "" {
				continue
			}
			identifier := NormalizedIdentifier(name)
			if _, ok := dictionary[identifier]; ok {
				continue
			}
			dictionary[identifier] = displayName
			changed = true
		}
		return changed
	})
}

// RemoveRule deletes the rule with identifier. It reports whether a rule was removed.
func (store *Store) RemoveRule(identifier string) (bool, error) {
	removed := false
	err := store.mutate(func(dictionary map[string]string) bool {
		if _, ok := dictionary[identifier]; !ok {
			return false
		}
		delete(dictionary, identifier)
		removed = true
		return true
	})
	return removed, err
}

// RemoveRules deletes every listed identifier that is present.
func (store *Store) RemoveRules(identifiers []string) error {
	if len(identifiers) == 0 {
		return nil
	}
	return store.mutate(func(dictionary map[string]string) bool {
		changed := false
		for _, identifier := range identifiers {
			if _, ok := dictionary[identifier]; ok {
				delete(dictionary, identifier)
				changed = true
			}
		}
		return changed
	})
}

// RemoveRuleForProcess normalizes processName and deletes its rule.
func (store *Store) RemoveRuleForProcess(processName string) (bool, error) {
	return store.RemoveRule(NormalizedIdentifier(processName))
}

// ContainsRule reports whether processName has a rule.
func (store *Store) ContainsRule(processName string) bool {
	identifier := NormalizedIdentifier(processName)
	if identifier == "" {
		return false
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	_, ok := store.load()[identifier]
	return ok
}

// mutate applies fn to a fresh copy of the stored map and persists it only
// when fn reports a change. Listeners are notified after a successful write.
func (store *Store) mutate(fn func(map[string]string) bool) error {
	store.mu.Lock()
	dictionary := store.load()
	if !fn(dictionary) {
		store.mu.Unlock()
		return nil
	}
	err := store.save(dictionary)
	store.mu.Unlock()
	if err != nil {
		return err
	}

	logger.Debug().Int("rules", len(dictionary)).Msg("rule set changed")
	store.broadcaster.Publish(struct{}{})
	return nil
}

// load must be called with mu held. Unreadable data is treated as empty.
func (store *Store) load() map[string]string {
	dictionary := make(map[string]string)
	raw, err := store.settings.Get(StorageKey)
	if err != nil {
		if !errors.Is(err, settings.ErrNotFound) {
			logger.Warn().Err(err).Msg("reading saved rules failed")
		}
		return dictionary
	}
	if err := json.Unmarshal([]byte(raw), &dictionary); err != nil {
		logger.Warn().Err(err).Msg("saved rules are corrupt, ignoring them")
		return make(map[string]string)
	}
	return dictionary
}

// save must be called with mu held.
func (store *Store) save(dictionary map[string]string) error {
	data, err := json.Marshal(dictionary)
	if err != nil {
		return fmt.Errorf("encoding rules: %w", err)
	}
	if err := store.settings.Set(StorageKey, string(data)); err != nil {
		return fmt.Errorf("saving rules: %w", err)
	}
	return nil
}

// NormalizedIdentifier is the rule identifier for a process name.
func NormalizedIdentifier(processName string) string {
	return strings.ToLower(strings.TrimSpace(processName))
}

// SanitizedDisplayName is the display name stored for a process name.
func SanitizedDisplayName(processName string) string {
	return strings.TrimSpace(processName)
}
