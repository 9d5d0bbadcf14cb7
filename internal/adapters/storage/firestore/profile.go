package firestore

import (
	"context"
	"fmt"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

// FetchProfile reads config/commander_profile. Rule groups are stored as
// plain strings, arrays or maps and are decoded by shape.
func (s *Store) FetchProfile(ctx context.Context) (*domain.CommanderProfile, error) {
	snap, err := s.client.Collection(profileCollection).Doc(profileDocument).Get(ctx)
	if err != nil {
		return nil, wrap("FetchProfile", err)
	}

	var p domain.CommanderProfile
	if err := snap.DataTo(&p); err != nil {
		return nil, wrap("FetchProfile decode", err)
	}

	data := snap.Data()
	if p.OperatingRules, err = ruleGroups(data["operating_rules"]); err != nil {
		return nil, fmt.Errorf("firestore FetchProfile operating_rules: %w", err)
	}
	if p.SOPs, err = ruleGroups(data["sops"]); err != nil {
		return nil, fmt.Errorf("firestore FetchProfile sops: %w", err)
	}

	if p.Identity.Name == "" && p.Version == "" {
		return nil, fmt.Errorf("firestore FetchProfile: profile has neither identity name nor version")
	}
	return &p, nil
}

func ruleGroups(v any) (map[string]domain.RuleGroup, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a map, got %T", v)
	}

	out := make(map[string]domain.RuleGroup, len(raw))
	for name, val := range raw {
		g, ok := domain.RuleGroupFromValue(val)
		if !ok {
			return nil, fmt.Errorf("group %q has unsupported type %T", name, val)
		}
		out[name] = g
	}
	return out, nil
}
