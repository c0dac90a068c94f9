// Package antibot recognizes bot-challenge pages and describes the
// stealth browser profile used against them.
package antibot

import (
	"os"
	"strings"
)

// Indicators are lowercase phrases seen on challenge and verification pages.
var Indicators = []string{
	"cloudflare",
	"checking your browser",
	"please wait",
	"verification",
	"captcha",
	"robot check",
	"are you a robot",
	"bot detection",
	"security check",
	"ddos protection",
	"javascript required",
	"enable javascript",
	"turnstile",
}

// Detect reports whether content carries any challenge indicator.
func Detect(content string) bool {
	_, ok := Match(content)
	return ok
}

// Match returns the first indicator found in content.
func Match(content string) (string, bool) {
	lower := strings.ToLower(content)
	for _, indicator := range Indicators {
		if strings.Contains(lower, indicator) {
			return indicator, true
		}
	}
	return "", false
}

// StealthArgs extend the default Chromium flags for the stealth profile.
var StealthArgs = []string{
	"--disable-extensions",
	"--disable-plugins",
	"--disable-default-apps",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--disable-features=IsolateOrigins,site-per-process",
	"--disable-web-security",
	"--no-first-run",
	"--no-default-browser-check",
}

// StealthHeaders are sent with every request of a stealth context.
func StealthHeaders() map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7",
		"DNT":                       "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-User":            "?1",
		"Upgrade-Insecure-Requests": "1",
	}
}

// InitScript masks the most common automation fingerprints before any
// page script runs.
const InitScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['fr-FR', 'fr', 'en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
`

var ciVariables = []string{
	"CI",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"CIRCLECI",
	"TRAVIS",
	"JENKINS_URL",
	"BUILDKITE",
	"TF_BUILD",
}

// IsCI reports whether the process runs on a CI runner, where no display
// is available.
func IsCI() bool {
	return isCI(os.Getenv)
}

func isCI(getenv func(string) string) bool {
	for _, key := range ciVariables {
		v := strings.ToLower(strings.TrimSpace(getenv(key)))
		if v != "" && v != "false" && v != "0" {
			return true
		}
	}
	return false
}

// Headless decides the headless flag: stealth turns it off so the page
// sees a real window, CI forces it back on.
func Headless(configured, stealth, ci bool) bool {
	if ci {
		return true
	}
	if stealth {
		return false
	}
	return configured
}
