package escalation

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

// FinancialThreshold is the dollar amount a financial message must exceed.
const FinancialThreshold = 50.0

var (
	userRequestPhrases = []string{"escalate", "ask jhawk", "check with jhawk", "jhawk review", "need approval"}

	securityKeywords = []string{
		"api key", "apikey", "secret", "password", "credential", "token",
		"private key", "ssh key", "auth", "permission", "access key", "vulnerab",
	}

	infraKeywords = []string{
		"deploy", "production", "prod ", "server", "database", "migration",
		"kubernetes", "k8s", "dns", "rollback", "infrastructure", "terraform", "restart",
	}

	financialKeywords = []string{
		"pay", "payment", "payout", "purchase", "buy", "invoice", "refund",
		"transfer", "charge", "spend", "budget", "cost", "price", "subscription",
	}

	crossAgentKeywords = []string{
		"other agent", "another agent", "agent config", "modify scout", "modify forge",
		"modify ledger", "change scout", "change forge", "change ledger", "agent's config",
		"soul.md", "agents.md",
	}

	// No thousands separators: "$1,200" reads as $1.
	dollarPattern = regexp.MustCompile(`\$(\d+(?:\.\d{2})?)`)
)

type rule struct {
	trigger domain.Trigger
	match   func(msg string) bool
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{domain.TriggerUserRequested, containsAny(userRequestPhrases)},
	{domain.TriggerSecuritySensitive, containsAny(securityKeywords)},
	{domain.TriggerInfrastructureChange, containsAny(infraKeywords)},
	{domain.TriggerFinancialThreshold, func(msg string) bool {
		return containsAny(financialKeywords)(msg) && exceedsThreshold(msg)
	}},
	{domain.TriggerCrossAgentModification, containsAny(crossAgentKeywords)},
}

// Classify returns the single trigger a user message raises, if any.
// Advisor mode never escalates.
func Classify(message string, mode domain.Mode) (domain.Trigger, bool) {
	if mode == domain.ModeAdvisor {
		return "", false
	}
	msg := strings.ToLower(message)
	for _, r := range rules {
		if r.match(msg) {
			return r.trigger, true
		}
	}
	return "", false
}

var severities = map[domain.Trigger]domain.Severity{
	domain.TriggerSecuritySensitive:      domain.SeverityCritical,
	domain.TriggerFinancialThreshold:     domain.SeverityHigh,
	domain.TriggerInfrastructureChange:   domain.SeverityHigh,
	domain.TriggerInstructionConflict:    domain.SeverityHigh,
	domain.TriggerCrossAgentModification: domain.SeverityHigh,
	domain.TriggerLowConfidence:          domain.SeverityMedium,
	domain.TriggerUserRequested:          domain.SeverityMedium,
	domain.TriggerTimeout:                domain.SeverityMedium,
}

// Severity is a fixed lookup; unknown triggers are medium.
func Severity(t domain.Trigger) domain.Severity {
	if s, ok := severities[t]; ok {
		return s
	}
	return domain.SeverityMedium
}

func containsAny(words []string) func(string) bool {
	return func(msg string) bool {
		for _, w := range words {
			if strings.Contains(msg, w) {
				return true
			}
		}
		return false
	}
}

// exceedsThreshold reports whether any dollar amount in msg is strictly
// greater than FinancialThreshold.
func exceedsThreshold(msg string) bool {
	for _, m := range dollarPattern.FindAllStringSubmatch(msg, -1) {
		amount, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if amount > FinancialThreshold {
			return true
		}
	}
	return false
}
