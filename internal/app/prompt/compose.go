// Package prompt renders the commander profile, memory and mode into the
// system prompt sent upstream.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

// AssistantName is how the prompt refers to the assistant.
const AssistantName = "Kimi"

var escalationRules = []string{
	"Financial actions above $50",
	"Infrastructure or production changes (deploys, migrations, DNS, server restarts)",
	"Your confidence in the right answer is below 30%",
	"The user explicitly asks to escalate or to involve jhawk",
	"Security-sensitive topics: secrets, API keys, credentials, authentication",
	"Conflicting instructions from the commander profile or the user",
	"A task that will take longer than 30 minutes",
	"Any edit to another agent's configuration",
}

var closingGuidelines = []string{
	"Be concise. Lead with the answer.",
	"Use markdown for structure when it helps.",
	"Cite the data or memory entry you rely on.",
	"Never fabricate facts, numbers or task state.",
	"Acknowledge the request before starting long work.",
}

// Compose builds the system prompt. Output is deterministic for a given
// input; sections with no content are skipped.
func Compose(profile domain.CommanderProfile, memory []domain.MemoryEntry, mode domain.Mode) string {
	var sections []string
	add := func(s string) {
		if s != "" {
			sections = append(sections, s)
		}
	}

	add(identitySection(profile.Identity))
	add(ruleSection("Operating Rules", profile.OperatingRules, false))
	add(ruleSection("Standard Operating Procedures", profile.SOPs, true))
	add(boundariesSection(profile.Boundaries))
	add(modeSection(mode))
	add(memorySection(memory))
	add(guidelinesSection(profile.Formatting))

	return strings.Join(sections, "\n\n")
}

func identitySection(id domain.Identity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the operations assistant for the commander.", AssistantName)

	var lines []string
	field := func(label, v string) {
		if v != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", label, v))
		}
	}
	field("Commander", id.Name)
	field("Role", id.Role)
	field("Personality", id.Personality)
	field("Communication style", id.CommunicationStyle)
	field("Tone", id.Tone)

	if len(lines) > 0 {
		b.WriteString("\n\n## Commander Identity\n")
		b.WriteString(strings.Join(lines, "\n"))
	}
	return b.String()
}

func ruleSection(title string, groups map[string]domain.RuleGroup, numbered bool) string {
	names := make([]string, 0, len(groups))
	for name, g := range groups {
		if !g.IsEmpty() {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("## " + title)
	for _, name := range names {
		g := groups[name]
		fmt.Fprintf(&b, "\n\n### %s\n", humanize(name))

		switch g.Kind {
		case domain.RuleLabeled:
			lines := make([]string, 0, len(g.Labeled))
			for _, k := range g.Labels() {
				lines = append(lines, fmt.Sprintf("- %s: %s", k, g.Labeled[k]))
			}
			b.WriteString(strings.Join(lines, "\n"))
		case domain.RuleSteps:
			lines := make([]string, 0, len(g.Steps))
			for i, s := range g.Steps {
				if numbered {
					lines = append(lines, fmt.Sprintf("%d. %s", i+1, s))
				} else {
					lines = append(lines, "- "+s)
				}
			}
			b.WriteString(strings.Join(lines, "\n"))
		default:
			b.WriteString(g.Text)
		}
	}
	return b.String()
}

func boundariesSection(bounds *domain.Boundaries) string {
	if bounds == nil || (len(bounds.CannotDo) == 0 && len(bounds.CanDo) == 0) {
		return ""
	}

	lines := []string{"## Boundaries"}
	for _, s := range bounds.CannotDo {
		lines = append(lines, "- ❌ NEVER: "+s)
	}
	for _, s := range bounds.CanDo {
		lines = append(lines, "- ✅ ALLOWED: "+s)
	}
	return strings.Join(lines, "\n")
}

func modeSection(mode domain.Mode) string {
	switch mode {
	case domain.ModeAdvisor:
		return strings.Join([]string{
			"## Mode: Advisor (read-only)",
			"- You give advice only. Do not execute actions or claim to have executed them.",
			"- Do not write to memory.",
			"- Do not raise escalations.",
			"- When you are unsure, say so explicitly and flag the advice as uncertain.",
		}, "\n")
	case domain.ModeOperator:
		lines := []string{
			"## Mode: Operator",
			"Escalate to jhawk before acting when any of these apply:",
		}
		for i, r := range escalationRules {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, r))
		}
		lines = append(lines, "When you escalate, name the trigger and its severity (low, medium, high, critical).")
		return strings.Join(lines, "\n")
	default:
		return ""
	}
}

func memorySection(memory []domain.MemoryEntry) string {
	if len(memory) == 0 {
		return ""
	}
	lines := make([]string, 0, len(memory)+1)
	lines = append(lines, "## Memory")
	for _, m := range memory {
		lines = append(lines, fmt.Sprintf("- [%s] %s: %s", m.Category, m.Key, m.Value))
	}
	return strings.Join(lines, "\n")
}

func guidelinesSection(f *domain.Formatting) string {
	lines := []string{"## Response Guidelines"}
	for _, g := range closingGuidelines {
		lines = append(lines, "- "+g)
	}
	if f != nil {
		if f.ResponseLength != "" {
			lines = append(lines, "- Response length: "+f.ResponseLength)
		}
		if f.MarkdownStyle != "" {
			lines = append(lines, "- Markdown style: "+f.MarkdownStyle)
		}
		if f.CodeLanguage != "" {
			lines = append(lines, "- Default code language: "+f.CodeLanguage)
		}
	}
	return strings.Join(lines, "\n")
}

// humanize turns "incident_response" into "Incident response".
func humanize(key string) string {
	s := strings.ReplaceAll(key, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
