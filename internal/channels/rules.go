package channels

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRuleSet reads a rule set from a YAML file. Pattern lists that are
// absent from the file fall back to the built-in defaults, so an override
// file only needs to name the lists it changes. An empty path means no
// overrides at all.
func LoadRuleSet(path string) (RuleSet, error) {
	if path == "" {
		return DefaultRuleSet(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read channel rules: %w", err)
	}

	var loaded RuleSet
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse channel rules: %w", err)
	}

	return mergeWithDefaults(loaded), nil
}

// mergeWithDefaults fills empty pattern lists from the default rule set.
func mergeWithDefaults(rs RuleSet) RuleSet {
	defaults := DefaultRuleSet()
	if len(rs.SearchEngines) == 0 {
		rs.SearchEngines = defaults.SearchEngines
	}
	if len(rs.SocialPlatforms) == 0 {
		rs.SocialPlatforms = defaults.SocialPlatforms
	}
	if len(rs.PaidMediums) == 0 {
		rs.PaidMediums = defaults.PaidMediums
	}
	if len(rs.EmailMediums) == 0 {
		rs.EmailMediums = defaults.EmailMediums
	}
	if len(rs.EmailSources) == 0 {
		rs.EmailSources = defaults.EmailSources
	}
	if len(rs.SMSMediums) == 0 {
		rs.SMSMediums = defaults.SMSMediums
	}
	if len(rs.SocialMediums) == 0 {
		rs.SocialMediums = defaults.SocialMediums
	}
	if len(rs.ReferralMediums) == 0 {
		rs.ReferralMediums = defaults.ReferralMediums
	}
	return rs
}
