// Package alarm implements the Alarm Engine (§4.10) and Startup Recovery
// (§4.11): a rule cache keyed by composite target, analog/digital/script
// evaluators with hysteresis, latching, suppression, and occurrence
// lifecycle management.
//
// Grounded on the teacher's pkg/manager/fsm.go explicit state-transition
// idiom for the occurrence state machine, and pkg/reconciler.go's
// periodic-pass shape for the recovery loop.
package alarm

import (
	"sync"

	"github.com/cuemby/telemetry-collector/pkg/model"
)

// TargetKey replaces the source system's dynamic "target_type:id" string
// key with a strongly-typed composite key, per §9's design note.
type TargetKey struct {
	TenantID   string
	TargetType model.TargetType
	TargetID   string
}

// RuleCache is keyed by (tenant_id, target_type, target_id) -> rule list,
// refreshed wholesale on Reload, protected by a reader-writer lock since
// writers only run on explicit reload (§4.10, §5).
type RuleCache struct {
	mu    sync.RWMutex
	byKey map[TargetKey][]*model.AlarmRule
	byID  map[string]*model.AlarmRule
}

func NewRuleCache() *RuleCache {
	return &RuleCache{
		byKey: make(map[TargetKey][]*model.AlarmRule),
		byID:  make(map[string]*model.AlarmRule),
	}
}

// ReloadTenant replaces every rule belonging to tenantID with rules.
func (c *RuleCache) ReloadTenant(tenantID string, rules []model.AlarmRule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, list := range c.byKey {
		if key.TenantID != tenantID {
			continue
		}
		delete(c.byKey, key)
		for _, r := range list {
			delete(c.byID, r.ID)
		}
	}

	for i := range rules {
		r := &rules[i]
		key := TargetKey{TenantID: r.TenantID, TargetType: r.TargetType, TargetID: r.TargetID}
		c.byKey[key] = append(c.byKey[key], r)
		c.byID[r.ID] = r
	}
}

// ReloadRule replaces (or inserts) a single rule by id.
func (c *RuleCache) ReloadRule(rule model.AlarmRule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.byID[rule.ID]; ok {
		oldKey := TargetKey{TenantID: old.TenantID, TargetType: old.TargetType, TargetID: old.TargetID}
		list := c.byKey[oldKey]
		for i, r := range list {
			if r.ID == rule.ID {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(c.byKey, oldKey)
		} else {
			c.byKey[oldKey] = list
		}
	}

	r := rule
	key := TargetKey{TenantID: r.TenantID, TargetType: r.TargetType, TargetID: r.TargetID}
	c.byKey[key] = append(c.byKey[key], &r)
	c.byID[r.ID] = &r
}

// RulesFor returns the (possibly empty) list of rules matching key.
func (c *RuleCache) RulesFor(key TargetKey) []*model.AlarmRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*model.AlarmRule(nil), c.byKey[key]...)
}

// Get returns a rule by id.
func (c *RuleCache) Get(ruleID string) (*model.AlarmRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.byID[ruleID]
	return r, ok
}
