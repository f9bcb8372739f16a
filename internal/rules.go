package internal

import (
	"encoding/json"
	"log"

	"github.com/Knetic/govaluate"
)

// Rule routes matching events to a relay topic. When is a govaluate
// expression over the flattened webhook payload plus the normalized
// envelope fields; Drivers optionally restricts which relay drivers
// receive the topic.
type Rule struct {
	When    string   `yaml:"when"`
	Emit    string   `yaml:"emit"`
	Drivers []string `yaml:"drivers"`
}

// Match is a relay destination produced by rule evaluation.
type Match struct {
	Topic   string
	Drivers []string
}

type compiledRule struct {
	emit    string
	drivers []string
	expr    *govaluate.EvaluableExpression
}

// RulesConfig represents the rule-specific parts of the configuration.
type RulesConfig struct {
	Rules  []Rule
	Strict bool
	Logger *log.Logger
}

// RuleEngine evaluates relay rules against normalized events. It only steers
// the optional relay publisher; SSE delivery is filtered by installation id
// alone and never consults rules.
type RuleEngine struct {
	rules  []compiledRule
	strict bool
	logger *log.Logger
}

func NewRuleEngine(cfg RulesConfig) (*RuleEngine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	rules := make([]compiledRule, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		expr, err := govaluate.NewEvaluableExpression(rule.When)
		if err != nil {
			return nil, err
		}
		rules = append(rules, compiledRule{emit: rule.Emit, drivers: rule.Drivers, expr: expr})
	}

	return &RuleEngine{rules: rules, strict: cfg.Strict, logger: logger}, nil
}

// Evaluate returns the relay matches for event. The raw payload is flattened
// so rules can reference any webhook field; the envelope fields are layered
// on top under stable names.
func (r *RuleEngine) Evaluate(event Event, rawPayload []byte) []Match {
	if len(r.rules) == 0 {
		return nil
	}

	params := flattenPayload(rawPayload)
	params["event"] = string(event.Type)
	params["action"] = event.Action
	params["installation_id"] = event.InstallationID
	params["status"] = event.Status
	params["conclusion"] = event.Conclusion
	params["branch"] = event.Branch

	matches := make([]Match, 0, 1)
	for _, rule := range r.rules {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			r.logger.Printf("rule eval failed for %q: %v", rule.emit, err)
			continue
		}
		ok, _ := result.(bool)
		if ok {
			matches = append(matches, Match{Topic: rule.emit, Drivers: rule.drivers})
		}
	}
	if len(matches) == 0 && r.strict {
		r.logger.Printf("event %s/%s matched no relay rule", event.Type, event.Action)
	}
	return matches
}

func flattenPayload(rawPayload []byte) map[string]interface{} {
	var decoded interface{}
	if err := json.Unmarshal(rawPayload, &decoded); err != nil {
		return map[string]interface{}{}
	}
	object, ok := decoded.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return Flatten(object)
}
