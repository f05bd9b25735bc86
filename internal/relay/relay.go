package relay

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rackwise/rackwise-core/internal/canonical"
	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
)

// gatewayPlaceholder is the substitution token in target templates.
const gatewayPlaceholder = "${gatewayId}"

// Rule rewrites an inbound topic to an outbound canonical topic.
type Rule struct {
	Category string
	Pattern  *regexp.Regexp
	Template string
}

// Publication is a relay output ready for the MQTT adapter.
type Publication struct {
	Topic   string
	Payload []byte
}

// Relay rewrites processed records onto derived topics based on an
// ordered rule set built from configuration.
//
// Thread Safety: rule reads are lock-free after construction; Reload
// swaps the rule set under a lock.
type Relay struct {
	log *logging.Logger

	mu          sync.RWMutex
	rules       []Rule
	topicPrefix string
	enabled     bool
}

// New builds a relay from the {category -> targetTemplate} pattern map.
// Rules are ordered by category so matching is deterministic.
func New(log *logging.Logger, enabled bool, patterns map[string]string, topicPrefix string) (*Relay, error) {
	rules, err := compileRules(patterns)
	if err != nil {
		return nil, err
	}
	return &Relay{
		log:         log.With("component", "relay"),
		rules:       rules,
		topicPrefix: topicPrefix,
		enabled:     enabled,
	}, nil
}

// compileRules turns the config pattern map into ordered regex rules.
func compileRules(patterns map[string]string) ([]Rule, error) {
	categories := make([]string, 0, len(patterns))
	for category := range patterns {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	rules := make([]Rule, 0, len(categories))
	for _, category := range categories {
		re, err := regexp.Compile("^" + regexp.QuoteMeta(category) + `/([^/]+)/(.*)$`)
		if err != nil {
			return nil, fmt.Errorf("relay: pattern for %q: %w", category, err)
		}
		rules = append(rules, Rule{
			Category: category,
			Pattern:  re,
			Template: patterns[category],
		})
	}
	return rules, nil
}

// Transform matches the record's raw topic against the rule set and, on
// the first match, produces the outbound publication: target template
// with ${gatewayId} substituted, payload reduced to the canonical
// fields.
//
// Returns:
//   - *Publication: nil when the relay is disabled or no rule matches
//   - error: payload serialization failure
func (r *Relay) Transform(rec *canonical.Record) (*Publication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.enabled {
		return nil, nil
	}

	for _, rule := range r.rules {
		m := rule.Pattern.FindStringSubmatch(rec.Meta.RawTopic)
		if m == nil {
			continue
		}

		topic := strings.ReplaceAll(rule.Template, gatewayPlaceholder, m[1])
		payload, err := json.Marshal(rec.Clean())
		if err != nil {
			return nil, fmt.Errorf("relay: marshal record for %q: %w", topic, err)
		}
		return &Publication{Topic: topic, Payload: payload}, nil
	}
	return nil, nil
}

// ShouldSkip reports whether an inbound topic is a self-generated relay
// output and must be ignored to prevent loops.
func (r *Relay) ShouldSkip(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.topicPrefix != "" && strings.HasPrefix(topic, r.topicPrefix) {
		return true
	}
	for _, rule := range r.rules {
		prefix := rule.Template
		if i := strings.Index(prefix, "${"); i >= 0 {
			prefix = prefix[:i]
		}
		if prefix != "" && strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// Reload replaces the rule set from a fresh pattern map.
func (r *Relay) Reload(patterns map[string]string, topicPrefix string) error {
	rules, err := compileRules(patterns)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rules
	r.topicPrefix = topicPrefix
	return nil
}

// Rules returns a copy of the active rule set, for the stats surface.
func (r *Relay) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}
