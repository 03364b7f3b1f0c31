// Package channels classifies touchpoints into marketing channels.
//
// Classification is a priority-ordered cascade driven by an immutable rule
// set. The rule set is plain data (pattern lists) rather than hard-coded
// control flow, so deployments can override it and individual rules can be
// tested in isolation.
package channels

import (
	"strings"

	"attriflow/internal/events"
)

// Channel labels. Every touchpoint maps to exactly one of these; absence of
// any signal resolves to Direct, never to an error.
const (
	PaidSearch    = "paid_search"
	PaidSocial    = "paid_social"
	Email         = "email"
	SMS           = "sms"
	OrganicSocial = "organic_social"
	OrganicSearch = "organic_search"
	Referral      = "referral"
	Direct        = "direct"
)

// RuleSet holds the pattern data the classification cascade matches against.
type RuleSet struct {
	SearchEngines   []string `yaml:"search_engines"`
	SocialPlatforms []string `yaml:"social_platforms"`
	PaidMediums     []string `yaml:"paid_mediums"`
	EmailMediums    []string `yaml:"email_mediums"`
	EmailSources    []string `yaml:"email_sources"`
	SMSMediums      []string `yaml:"sms_mediums"`
	SocialMediums   []string `yaml:"social_mediums"`
	ReferralMediums []string `yaml:"referral_mediums"`
}

// DefaultRuleSet returns the built-in classification patterns.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		SearchEngines: []string{
			"google", "bing", "yahoo", "duckduckgo", "baidu", "yandex", "ecosia", "brave",
		},
		SocialPlatforms: []string{
			"facebook", "fb.com", "instagram", "twitter", "t.co", "x.com", "linkedin",
			"tiktok", "pinterest", "reddit", "youtube", "threads", "snapchat",
		},
		PaidMediums:     []string{"cpc", "ppc", "paid"},
		EmailMediums:    []string{"email"},
		EmailSources:    []string{"lifecycle"},
		SMSMediums:      []string{"sms"},
		SocialMediums:   []string{"social", "organic_social"},
		ReferralMediums: []string{"affiliate", "referral"},
	}
}

// Classifier maps a touchpoint's metadata to a channel label.
type Classifier struct {
	rules RuleSet
}

// NewClassifier creates a classifier over the given rule set.
func NewClassifier(rules RuleSet) *Classifier {
	return &Classifier{rules: rules}
}

// NewDefaultClassifier creates a classifier with the built-in rule set.
func NewDefaultClassifier() *Classifier {
	return NewClassifier(DefaultRuleSet())
}

// Classify resolves one touchpoint to a channel label. The cascade is
// priority ordered; the first matching rule wins.
func (c *Classifier) Classify(tp events.Touchpoint) string {
	// 1. Ad-click identifiers carry the strongest signal.
	if tp.GCLID != "" {
		return PaidSearch
	}
	if tp.FBCLID != "" || tp.TTCLID != "" {
		return PaidSocial
	}

	medium := strings.ToLower(strings.TrimSpace(tp.UTMMedium))
	source := strings.ToLower(strings.TrimSpace(tp.UTMSource))

	// 2. Paid mediums split on whether the source is a search engine.
	if containsFold(c.rules.PaidMediums, medium) {
		if c.matchesAny(source, c.rules.SearchEngines) {
			return PaidSearch
		}
		return PaidSocial
	}

	// 3. Lifecycle messaging.
	if containsFold(c.rules.EmailMediums, medium) || containsFold(c.rules.EmailSources, source) {
		return Email
	}
	if containsFold(c.rules.SMSMediums, medium) {
		return SMS
	}

	// 4. Declared social and referral mediums.
	if containsFold(c.rules.SocialMediums, medium) {
		return OrganicSocial
	}
	if containsFold(c.rules.ReferralMediums, medium) {
		return Referral
	}

	// 5. No referrer and no matching UTM signal means direct traffic.
	referrer := strings.ToLower(strings.TrimSpace(tp.ReferrerDomain))
	if referrer == "" {
		return Direct
	}

	// 6. Referrer domain patterns.
	if c.matchesAny(referrer, c.rules.SearchEngines) {
		return OrganicSearch
	}
	if c.matchesAny(referrer, c.rules.SocialPlatforms) {
		return OrganicSocial
	}

	// 7. Self-referrals count as direct.
	if isSelfReferral(referrer, tp.PageHostname) {
		return Direct
	}

	// 8. Anything else is a plain referral.
	return Referral
}

// matchesAny reports whether value contains any of the patterns.
func (c *Classifier) matchesAny(value string, patterns []string) bool {
	if value == "" {
		return false
	}
	for _, p := range patterns {
		if p != "" && strings.Contains(value, p) {
			return true
		}
	}
	return false
}

// containsFold reports whether list contains value, case-insensitively.
func containsFold(list []string, value string) bool {
	if value == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

// isSelfReferral checks if a referrer domain matches the page's own hostname,
// modulo a www. prefix on either side.
func isSelfReferral(referrer, pageHostname string) bool {
	if referrer == "" || pageHostname == "" {
		return false
	}
	a := strings.TrimPrefix(strings.ToLower(referrer), "www.")
	b := strings.TrimPrefix(strings.ToLower(pageHostname), "www.")
	return a == b
}
