package scraper

import "time"

// Strategy names an escalation level for fetching a page. Higher levels
// trade latency for resilience against slow hosts and bot defenses.
type Strategy string

const (
	StrategyFast       Strategy = "fast"       // direct, short timeout
	StrategyStandard   Strategy = "standard"   // via proxy, medium timeout
	StrategyRobust     Strategy = "robust"     // proxy + user-agent rotation
	StrategyAggressive Strategy = "aggressive" // proxy rotation + UA rotation
)

type strategyParams struct {
	timeout     time.Duration
	useProxy    bool
	rotateUA    bool
	rotateProxy bool
}

var strategyTable = map[Strategy]strategyParams{
	StrategyFast:       {timeout: 10 * time.Second},
	StrategyStandard:   {timeout: 15 * time.Second, useProxy: true},
	StrategyRobust:     {timeout: 20 * time.Second, useProxy: true, rotateUA: true},
	StrategyAggressive: {timeout: 25 * time.Second, useProxy: true, rotateUA: true, rotateProxy: true},
}

var allStrategies = []Strategy{StrategyFast, StrategyStandard, StrategyRobust, StrategyAggressive}

// SiteType classifies how a site renders its content.
type SiteType string

const (
	SiteStatic  SiteType = "static"
	SiteSPA     SiteType = "spa"
	SiteHybrid  SiteType = "hybrid"
	SiteUnknown SiteType = "unknown"
)

var protectionStrategies = map[Protection][]Strategy{
	ProtectionNone:             {StrategyFast, StrategyStandard, StrategyRobust},
	ProtectionBrowserChallenge: {StrategyAggressive, StrategyRobust, StrategyStandard},
	ProtectionWAF:              {StrategyRobust, StrategyAggressive, StrategyStandard},
	ProtectionCaptcha:          {StrategyAggressive, StrategyRobust},
	ProtectionRateLimit:        {StrategyStandard, StrategyRobust},
	ProtectionBotDetection:     {StrategyAggressive, StrategyRobust, StrategyStandard},
}

var siteTypeStrategies = map[SiteType][]Strategy{
	SiteStatic:  {StrategyFast, StrategyStandard, StrategyRobust},
	SiteSPA:     {StrategyRobust, StrategyAggressive, StrategyStandard},
	SiteHybrid:  {StrategyStandard, StrategyRobust, StrategyAggressive},
	SiteUnknown: {StrategyStandard, StrategyFast, StrategyRobust, StrategyAggressive},
}

const slowSiteThresholdMs = 5000
const fastStaticThresholdMs = 500

// SelectStrategies orders the candidate strategies for a site profile.
// Protection takes precedence over site type; missing strategies are
// appended so the cascade can always exhaust all four. A known-good
// strategy from SiteKnowledge is promoted to the head.
func SelectStrategies(p SiteProfile) []Strategy {
	var ordered []Strategy
	if p.Protection != ProtectionNone {
		ordered = append(ordered, protectionStrategies[p.Protection]...)
	} else {
		base, ok := siteTypeStrategies[p.SiteType]
		if !ok {
			base = siteTypeStrategies[SiteUnknown]
		}
		ordered = append(ordered, base...)
	}
	for _, s := range allStrategies {
		if !containsStrategy(ordered, s) {
			ordered = append(ordered, s)
		}
	}

	switch {
	case p.LatencyMs > slowSiteThresholdMs:
		ordered = promote(ordered, StrategyRobust)
	case p.LatencyMs < fastStaticThresholdMs && p.SiteType == SiteStatic:
		ordered = promote(ordered, StrategyFast)
	}

	if p.KnownGoodStrategy != "" {
		ordered = promote(ordered, p.KnownGoodStrategy)
	}
	return ordered
}

func containsStrategy(list []Strategy, s Strategy) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func promote(list []Strategy, s Strategy) []Strategy {
	if !containsStrategy(list, s) {
		return list
	}
	out := make([]Strategy, 0, len(list))
	out = append(out, s)
	for _, x := range list {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}
