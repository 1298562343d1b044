package activator

import (
	"regexp"
	"strings"

	"persona/internal/domain"
)

// Structured condition kinds.
const (
	CondAlways      = "always"
	CondMention     = "mention"
	CondTopic       = "topic"
	CondChance      = "chance"
	CondTopicChance = "topic_chance"
	CondQuestion    = "question"
	CondDirect      = "direct"
)

// conditionEvaluator resolves a structured condition using its topic and
// sides parameters.
type conditionEvaluator struct {
	kind    string
	terms   []string
	sides   int
	mention *regexp.Regexp
	roll    func(int) int
}

func compileCondition(c Check, agentName string, roll func(int) int) (*conditionEvaluator, error) {
	ce := &conditionEvaluator{kind: c.Condition, sides: c.Sides, roll: roll}

	needTopic := c.Condition == CondTopic || c.Condition == CondTopicChance
	needSides := c.Condition == CondChance || c.Condition == CondTopicChance

	switch c.Condition {
	case CondAlways, CondQuestion, CondDirect, CondTopic, CondChance, CondTopicChance:
	case CondMention:
		if agentName == "" {
			return nil, &CheckError{Name: c.Name, Reason: "mention condition needs an agent name"}
		}
		ce.mention = regexp.MustCompile(`(?i)(^|\W)@?` + regexp.QuoteMeta(agentName) + `(\W|$)`)
	default:
		return nil, &CheckError{Name: c.Name, Reason: "unknown condition " + c.Condition}
	}

	if needTopic {
		for _, t := range strings.Split(c.Topic, ",") {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				ce.terms = append(ce.terms, t)
			}
		}
		if len(ce.terms) == 0 {
			return nil, &CheckError{Name: c.Name, Reason: c.Condition + " condition needs a topic"}
		}
	}
	if needSides && c.Sides < 1 {
		return nil, &CheckError{Name: c.Name, Reason: c.Condition + " condition needs sides >= 1"}
	}
	return ce, nil
}

func (c *conditionEvaluator) evaluate(ev domain.InboundEvent) bool {
	switch c.kind {
	case CondAlways:
		return true
	case CondMention:
		return c.mention.MatchString(ev.Content)
	case CondTopic:
		return c.onTopic(ev.Content)
	case CondChance:
		return c.lucky()
	case CondTopicChance:
		return c.onTopic(ev.Content) && c.lucky()
	case CondQuestion:
		return strings.HasSuffix(strings.TrimSpace(ev.Content), "?")
	case CondDirect:
		return ev.ContextKind == domain.ContextDirect
	}
	return false
}

func (c *conditionEvaluator) onTopic(content string) bool {
	lower := strings.ToLower(content)
	for _, t := range c.terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// lucky rolls a die with the configured number of sides and wins on zero.
func (c *conditionEvaluator) lucky() bool {
	if c.sides == 1 {
		return true
	}
	return c.roll(c.sides) == 0
}

// SelfExclusion returns the mandatory check that keeps the agent from
// answering itself or its own invocation prefix ("<name>!"). selfID is read
// on every evaluation since the platform id is only known once connected.
func SelfExclusion(name string, selfID func() string) Check {
	prefix := name + "!"
	return Check{
		Name:      "self-exclusion",
		Mandatory: true,
		Predicate: func(ev domain.InboundEvent) bool {
			if ev.AuthorName == name {
				return false
			}
			if selfID != nil {
				if id := selfID(); id != "" && ev.AuthorID == id {
					return false
				}
			}
			return !strings.HasPrefix(ev.Content, prefix)
		},
	}
}

// Default builds an activator for the named agent carrying the
// self-exclusion check.
func Default(cfg Config, selfID func() string) *Activator {
	a := New(cfg)
	a.MustAdd(SelfExclusion(cfg.AgentName, selfID))
	return a
}
