package sites

import (
	"log/slog"
	"time"
)

var defaultSelectors = []string{".price", ".product-price", "#price"}

func NewGeneric(logger *slog.Logger) Handler {
	return newSite(logger, UnknownSite, nil, defaultSelectors)
}

func NewLDLC(logger *slog.Logger) Handler {
	return newSite(logger, "LDLC", []string{"ldlc.com"},
		[]string{".price", ".new-price", ".price__amount"})
}

func NewMaterielNet(logger *slog.Logger) Handler {
	return newSite(logger, "Materiel.net", []string{"materiel.net"},
		[]string{".o-product__price"})
}

func NewAlternate(logger *slog.Logger) Handler {
	return newSite(logger, "Alternate", []string{"alternate.fr"},
		[]string{".price", ".product-detail-price"})
}

func NewGrosbill(logger *slog.Logger) Handler {
	s := newSite(logger, "Grosbill", []string{"grosbill.com"}, []string{".p-3x"})
	s.wait = 5 * time.Second
	return s
}

func NewBPMPower(logger *slog.Logger) Handler {
	s := newSite(logger, "BPM Power", []string{"bpm-power.com"}, []string{".prezzoSchedaProd"})
	s.stealth = true
	s.wait = 12 * time.Second
	return s
}
