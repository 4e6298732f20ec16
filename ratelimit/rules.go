package ratelimit

import "strings"

// RuleSet maps "METHOD route" pairs to rules and falls back to a default.
type RuleSet struct {
	def    Rule
	routes map[string]Rule
}

func NewRuleSet(def Rule) *RuleSet {
	return &RuleSet{def: def, routes: make(map[string]Rule)}
}

// Set registers the rule for method and route template.
func (rs *RuleSet) Set(method, route string, rule Rule) {
	rs.routes[ruleKey(method, route)] = rule
}

// For returns the rule for method and route, or the default rule.
func (rs *RuleSet) For(method, route string) Rule {
	if rule, ok := rs.routes[ruleKey(method, route)]; ok {
		return rule
	}
	return rs.def
}

func ruleKey(method, route string) string {
	return strings.ToUpper(method) + " " + route
}
