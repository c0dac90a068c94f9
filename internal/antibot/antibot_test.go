package antibot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		found   bool
	}{
		{"cloudflare challenge", "<title>Just a moment...</title><p>Checking your browser before accessing</p>", "checking your browser", true},
		{"turnstile widget", `<div class="cf-Turnstile">`, "turnstile", true},
		{"captcha", "Please solve the CAPTCHA", "captcha", true},
		{"plain product page", "<h1>Razer DeathAdder V3</h1><span class='price'>129,99 €</span>", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := Match(tt.content)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetect(t *testing.T) {
	assert.True(t, Detect("DDoS protection by Cloudflare"))
	assert.False(t, Detect("Ajouter au panier"))
}

func TestIsCI(t *testing.T) {
	env := func(values map[string]string) func(string) string {
		return func(k string) string { return values[k] }
	}

	assert.True(t, isCI(env(map[string]string{"GITHUB_ACTIONS": "true"})))
	assert.True(t, isCI(env(map[string]string{"CI": "1"})))
	assert.False(t, isCI(env(map[string]string{"CI": "false"})))
	assert.False(t, isCI(env(nil)))
}

func TestHeadless(t *testing.T) {
	tests := []struct {
		name                    string
		configured, stealth, ci bool
		want                    bool
	}{
		{"default headless", true, false, false, true},
		{"stealth shows window", true, true, false, false},
		{"ci forces headless for stealth", false, true, true, true},
		{"configured headful", false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Headless(tt.configured, tt.stealth, tt.ci))
		})
	}
}
