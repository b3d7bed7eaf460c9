// Package placement maps notification attributes to overlay screen slots.
package placement

import (
	"strings"
	"sync"

	"github.com/jeremyward/tvrelay/internal/model"
)

// AppClass buckets source apps with shared placement behavior.
type AppClass string

const (
	ClassMessaging AppClass = "messaging"
	ClassDialer    AppClass = "dialer"
	ClassSystem    AppClass = "system"
)

// ValidClasses returns all recognized app classes.
func ValidClasses() []AppClass {
	return []AppClass{ClassMessaging, ClassDialer, ClassSystem}
}

// defaultClasses is the built-in source-app classification table.
var defaultClasses = map[string]AppClass{
	"whatsapp":              ClassMessaging,
	"com.whatsapp":          ClassMessaging,
	"telegram":              ClassMessaging,
	"org.telegram":          ClassMessaging,
	"signal":                ClassMessaging,
	"org.thoughtcrime":      ClassMessaging,
	"messenger":             ClassMessaging,
	"com.facebook.orca":     ClassMessaging,
	"discord":               ClassMessaging,
	"com.discord":           ClassMessaging,
	"slack":                 ClassMessaging,
	"com.slack":             ClassMessaging,
	"phone":                 ClassDialer,
	"dialer":                ClassDialer,
	"com.android.dialer":    ClassDialer,
	"com.android.server":    ClassSystem,
	"com.android.systemui":  ClassSystem,
	"android":               ClassSystem,
	"com.android.vending":   ClassSystem,
	"com.android.settings":  ClassSystem,
	"com.google.android.gm": ClassMessaging,
}

// Resolver resolves overlay placement. The zero value uses the built-in
// classification table; overrides from configuration can be layered on top
// and swapped at runtime when the configuration reloads.
type Resolver struct {
	mu        sync.RWMutex
	overrides map[string]AppClass
}

// NewResolver creates a Resolver with per-app class overrides. Override keys
// are matched case-insensitively against the full source-app identifier.
func NewResolver(overrides map[string]AppClass) *Resolver {
	r := &Resolver{}
	r.SetOverrides(overrides)
	return r
}

// SetOverrides replaces the per-app class overrides. Safe to call while
// resolution is in progress.
func (r *Resolver) SetOverrides(overrides map[string]AppClass) {
	var m map[string]AppClass
	if len(overrides) > 0 {
		m = make(map[string]AppClass, len(overrides))
		for app, class := range overrides {
			m[strings.ToLower(app)] = class
		}
	}
	r.mu.Lock()
	r.overrides = m
	r.mu.Unlock()
}

// Resolve maps (app, is-group, priority, requested position) to a slot.
//
// Precedence: an explicitly requested position always wins, then high
// priority pins to top-center, then the per-app class table. Apps absent
// from the table fall back to bottom-end. Deterministic and total.
func (r *Resolver) Resolve(app string, isGroup bool, priority int, requested model.DisplaySlot) model.DisplaySlot {
	if requested != model.SlotUnset {
		return requested
	}
	if priority == model.PriorityHigh {
		return model.SlotTopCenter
	}

	class, ok := r.classify(app)
	if !ok {
		return model.SlotBottomEnd
	}

	switch class {
	case ClassMessaging:
		if isGroup {
			return model.SlotTopCenter
		}
		return model.SlotTopEnd
	case ClassDialer:
		return model.SlotTopCenter
	case ClassSystem:
		return model.SlotBottomCenter
	default:
		return model.SlotBottomEnd
	}
}

// ResolveBatch resolves placement for a sealed batch.
func (r *Resolver) ResolveBatch(b *model.MergedBatch) model.DisplaySlot {
	return r.Resolve(b.SourceApp, b.IsGroup, b.Priority, b.RequestedPosition)
}

// classify looks up the app class, overrides first. Lookup is
// case-insensitive and also matches known keys as identifier substrings,
// so "com.whatsapp.w4b" still classifies as messaging.
func (r *Resolver) classify(app string) (AppClass, bool) {
	key := strings.ToLower(strings.TrimSpace(app))
	if key == "" {
		return "", false
	}

	r.mu.RLock()
	class, ok := r.overrides[key]
	r.mu.RUnlock()
	if ok {
		return class, true
	}
	if class, ok := defaultClasses[key]; ok {
		return class, true
	}

	// Substring match for package-style identifiers ("com.whatsapp.w4b").
	// The longest known key wins so the lookup stays deterministic.
	var (
		bestKey   string
		bestClass AppClass
	)
	for known, class := range defaultClasses {
		if !strings.Contains(key, known) {
			continue
		}
		if len(known) > len(bestKey) || (len(known) == len(bestKey) && known < bestKey) {
			bestKey = known
			bestClass = class
		}
	}
	if bestKey != "" {
		return bestClass, true
	}
	return "", false
}
