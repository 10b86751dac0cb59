package scraper

import "strings"

// Protection classifies the bot defense a response body reveals. A
// protected response is not a transport success and not a transport
// failure either: it must not feed the origin's circuit breaker.
type Protection string

const (
	ProtectionNone             Protection = "none"
	ProtectionBrowserChallenge Protection = "browser-challenge"
	ProtectionWAF              Protection = "waf"
	ProtectionCaptcha          Protection = "captcha"
	ProtectionRateLimit        Protection = "rate-limit"
	ProtectionBotDetection     Protection = "bot-detection"
)

// Signature sets are matched case-insensitively against the body. The
// browser-challenge set is dominated by Cloudflare's interstitial
// markers.
var protectionSignatures = []struct {
	kind       Protection
	signatures []string
}{
	{ProtectionBrowserChallenge, []string{
		"just a moment...",
		"cf-browser-verification",
		"challenge-running",
		"cf_chl_opt",
		"checking your browser",
	}},
	{ProtectionCaptcha, []string{
		"g-recaptcha",
		"h-captcha",
		"hcaptcha.com",
		"recaptcha/api",
		"resolva o captcha",
		"complete the captcha",
	}},
	{ProtectionRateLimit, []string{
		"too many requests",
		"rate limit exceeded",
		"limite de requisi",
		"retry-after",
	}},
	{ProtectionWAF, []string{
		"request blocked",
		"access denied",
		"incapsula incident",
		"imperva",
		"mod_security",
		"blocked by security policy",
	}},
	{ProtectionBotDetection, []string{
		"distil_r_blocked",
		"px-captcha",
		"perimeterx",
		"datadome",
		"are you a robot",
		"automated access",
	}},
}

// DetectProtection scans a body for known defense signatures and returns
// the first matching category.
func DetectProtection(body string) Protection {
	lower := strings.ToLower(body)
	for _, set := range protectionSignatures {
		for _, sig := range set.signatures {
			if strings.Contains(lower, sig) {
				return set.kind
			}
		}
	}
	return ProtectionNone
}

// Soft 404s: pages that answer 200 with an error body. Only short bodies
// are checked so a long legitimate page mentioning "404" is not dropped.
const soft404MaxBodyLen = 4096

var soft404Keywords = []string{
	"404 not found", "page not found", "página não encontrada",
	"erro 404", "não encontramos a página", "página inexistente",
	"ops! página não encontrada", "error 404", "file not found",
}

func isSoft404(body string) bool {
	if len(body) > soft404MaxBodyLen {
		return false
	}
	lower := strings.ToLower(body)
	for _, kw := range soft404Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// minUsefulBodyBytes is the floor under which a 200 response is treated
// as empty: tracking pixels, redirect stubs and parked pages.
const minUsefulBodyBytes = 500
