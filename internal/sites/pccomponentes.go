package sites

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/price-tracker/internal/browser"
)

type PCComponentes struct {
	*site
}

func NewPCComponentes(logger *slog.Logger) *PCComponentes {
	s := newSite(logger, "PC Componentes", []string{"pccomponentes.fr", "pccomponentes.com"},
		[]string{".price", ".product-price", "#price"})
	s.stealth = true
	s.wait = 15 * time.Second
	return &PCComponentes{site: s}
}

var pcComponentesChallengeTerms = []string{"cloudflare", "checking your browser", "please wait", "verification"}

var pcComponentesConsentSelectors = []string{
	".button_styledChild__14nwxvlr",
	"#onetrust-accept-btn-handler",
	`button[data-testid="accept-all"]`,
	`button[aria-label*="Accept"]`,
	`button[title*="Accept"]`,
	`button[id*="accept"]`,
	`button[class*="accept"]`,
	`button[class*="consent"]`,
	".consent-accept",
	".cookie-accept",
	`[data-cy="accept-all"]`,
	`[data-testid*="accept"]`,
	"#didomi-notice-agree-button",
	".didomi-continue-without-agreeing",
	".cmp-accept-all",
	".gdpr-accept",
}

var pcComponentesConsentTexts = []string{
	"accepter tout", "accept all", "tout accepter", "accepter", "accept",
	"j'accepte", "continuer", "continue", "ok", "fermer", "close",
}

// PreparePage lets any challenge settle, dismisses the consent banner and
// then behaves like a reader so lazy price blocks render.
func (p *PCComponentes) PreparePage(ctx context.Context, page playwright.Page) error {
	browser.Wait(page, 3*time.Second)

	if content, err := page.Content(); err == nil && containsAny(strings.ToLower(content), pcComponentesChallengeTerms) {
		p.logger.Warn("challenge page detected, waiting longer")
		browser.Wait(page, 10*time.Second)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	p.acceptConsent(page)
	browser.Wait(page, 2*time.Second)

	if err := ctx.Err(); err != nil {
		return err
	}

	browser.HumanizeInteraction(page, 3, time.Second)
	browser.Wait(page, 5*time.Second)
	return nil
}

func (p *PCComponentes) acceptConsent(page playwright.Page) {
	if selector, ok := browser.ClickFirstVisible(page, pcComponentesConsentSelectors); ok {
		p.logger.Info("accepted consent", "selector", selector)
		browser.Wait(page, 2*time.Second)
		return
	}

	byText := make([]string, len(pcComponentesConsentTexts))
	for i, text := range pcComponentesConsentTexts {
		byText[i] = fmt.Sprintf(`button:has-text("%s")`, text)
	}
	if selector, ok := browser.ClickFirstVisible(page, byText); ok {
		p.logger.Info("accepted consent", "selector", selector)
		browser.Wait(page, 2*time.Second)
		return
	}

	p.logger.Warn("no consent banner handled")
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
