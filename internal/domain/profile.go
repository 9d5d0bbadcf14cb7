package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// CommanderProfile is the commander's configuration for response style and
// behavioral boundaries. This service only reads it.
type CommanderProfile struct {
	Identity       Identity             `json:"identity" firestore:"identity"`
	OperatingRules map[string]RuleGroup `json:"operatingRules,omitempty" firestore:"-"`
	SOPs           map[string]RuleGroup `json:"sops,omitempty" firestore:"-"`
	Formatting     *Formatting          `json:"formatting,omitempty" firestore:"formatting,omitempty"`
	Boundaries     *Boundaries          `json:"boundaries,omitempty" firestore:"boundaries,omitempty"`

	Version       string `json:"version" firestore:"version"`
	LastUpdatedBy string `json:"lastUpdatedBy,omitempty" firestore:"last_updated_by"`
	LastUpdatedAt string `json:"lastUpdatedAt,omitempty" firestore:"last_updated_at"`
}

type Identity struct {
	Name               string `json:"name" firestore:"name"`
	Role               string `json:"role" firestore:"role"`
	Personality        string `json:"personality,omitempty" firestore:"personality"`
	CommunicationStyle string `json:"communicationStyle,omitempty" firestore:"communication_style"`
	Tone               string `json:"tone,omitempty" firestore:"tone"`
}

type Formatting struct {
	ResponseLength string `json:"responseLength,omitempty" firestore:"response_length"`
	MarkdownStyle  string `json:"markdownStyle,omitempty" firestore:"markdown_style"`
	CodeLanguage   string `json:"codeLanguage,omitempty" firestore:"code_language"`
}

type Boundaries struct {
	CannotDo []string `json:"cannotDo,omitempty" firestore:"cannot_do"`
	CanDo    []string `json:"canDo,omitempty" firestore:"can_do"`
}

// RuleGroupKind tags the variant held by a RuleGroup.
type RuleGroupKind int

const (
	RuleText RuleGroupKind = iota
	RuleLabeled
	RuleSteps
)

// RuleGroup is one named operating-rule group or SOP: a paragraph, a set of
// labeled statements, or an ordered list of steps.
type RuleGroup struct {
	Kind    RuleGroupKind
	Text    string
	Labeled map[string]string
	Steps   []string
}

func TextRule(s string) RuleGroup { return RuleGroup{Kind: RuleText, Text: s} }

func LabeledRule(m map[string]string) RuleGroup { return RuleGroup{Kind: RuleLabeled, Labeled: m} }

func StepsRule(steps ...string) RuleGroup { return RuleGroup{Kind: RuleSteps, Steps: steps} }

// Labels returns the labeled keys in sorted order.
func (g RuleGroup) Labels() []string {
	keys := make([]string, 0, len(g.Labeled))
	for k := range g.Labeled {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsEmpty reports whether the group carries nothing worth rendering.
func (g RuleGroup) IsEmpty() bool {
	switch g.Kind {
	case RuleLabeled:
		return len(g.Labeled) == 0
	case RuleSteps:
		return len(g.Steps) == 0
	default:
		return g.Text == ""
	}
}

func (g RuleGroup) MarshalJSON() ([]byte, error) {
	switch g.Kind {
	case RuleLabeled:
		return json.Marshal(g.Labeled)
	case RuleSteps:
		return json.Marshal(g.Steps)
	default:
		return json.Marshal(g.Text)
	}
}

func (g *RuleGroup) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rg, ok := RuleGroupFromValue(raw)
	if !ok {
		return fmt.Errorf("rule group: unsupported JSON shape %s", string(data))
	}
	*g = rg
	return nil
}

// RuleGroupFromValue converts a decoded JSON/Firestore value into a RuleGroup.
// Strings become text, arrays become steps, objects become labeled statements.
func RuleGroupFromValue(v any) (RuleGroup, bool) {
	switch t := v.(type) {
	case string:
		return TextRule(t), true
	case []any:
		steps := make([]string, 0, len(t))
		for _, s := range t {
			steps = append(steps, fmt.Sprint(s))
		}
		return StepsRule(steps...), true
	case []string:
		return StepsRule(t...), true
	case map[string]any:
		m := make(map[string]string, len(t))
		for k, val := range t {
			if s, ok := val.(string); ok {
				m[k] = s
				continue
			}
			m[k] = fmt.Sprint(val)
		}
		return LabeledRule(m), true
	case map[string]string:
		return LabeledRule(t), true
	case nil:
		return TextRule(""), true
	default:
		return RuleGroup{}, false
	}
}

// FallbackProfileVersion marks responses composed from the built-in profile.
const FallbackProfileVersion = "fallback-1"

// FallbackProfile returns the built-in default profile. Each call builds a
// fresh value, so callers can never mutate the shared default.
func FallbackProfile() CommanderProfile {
	return CommanderProfile{
		Identity: Identity{
			Name:               "Commander",
			Role:               "Operator of the agent fleet",
			Personality:        "Direct, pragmatic, detail-oriented",
			CommunicationStyle: "Short answers first, details on request",
			Tone:               "Professional and calm",
		},
		OperatingRules: map[string]RuleGroup{
			"priorities": LabeledRule(map[string]string{
				"first":  "Keep production systems healthy",
				"second": "Unblock the commander's current task",
				"third":  "Keep records of decisions",
			}),
			"communication": TextRule("Report what you did, what you found, and what you need. Keep it short."),
		},
		SOPs: map[string]RuleGroup{
			"incident": StepsRule(
				"Acknowledge the incident",
				"Collect logs and recent changes",
				"Escalate to the commander before any remediation in production",
			),
		},
		Formatting: &Formatting{
			ResponseLength: "brief unless asked for detail",
			MarkdownStyle:  "headings and bullet lists, no tables unless comparing data",
			CodeLanguage:   "go",
		},
		Boundaries: &Boundaries{
			CannotDo: []string{
				"Spend money or approve payments",
				"Change production infrastructure",
				"Share credentials or secrets",
			},
			CanDo: []string{
				"Summarize tasks and status",
				"Draft documents and messages",
				"Explain data already in the dashboard",
			},
		},
		Version:       FallbackProfileVersion,
		LastUpdatedBy: "system",
	}
}
