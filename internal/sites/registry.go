package sites

import (
	"log/slog"
	"strings"
	"sync"
)

// Registry maps domain suffixes to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

func NewRegistry(fallback Handler) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		fallback: fallback,
	}
}

// Default returns a registry with every supported site.
func Default(logger *slog.Logger) *Registry {
	r := NewRegistry(NewGeneric(logger))

	r.Register(NewAmazon(logger))
	r.Register(NewIdealo(logger))
	r.Register(NewTopAchat(logger))
	r.Register(NewPCComponentes(logger))
	r.Register(NewLDLC(logger))
	r.Register(NewMaterielNet(logger))
	r.Register(NewGrosbill(logger))
	r.Register(NewAlternate(logger))
	r.Register(NewBPMPower(logger))

	return r
}

func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range h.Domains() {
		r.handlers[strings.TrimPrefix(strings.ToLower(d), "www.")] = h
	}
}

// Lookup returns the handler for rawURL, trying the full host and then
// each parent suffix. Unknown hosts get the fallback handler.
func (r *Registry) Lookup(rawURL string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	host := Host(rawURL)
	for host != "" {
		if h, ok := r.handlers[host]; ok {
			return h
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return r.fallback
}

func (r *Registry) SiteName(rawURL string) string {
	return r.Lookup(rawURL).Name()
}

// IsSupported reports whether rawURL belongs to domain.
func (r *Registry) IsSupported(rawURL, domain string) bool {
	return MatchesDomain(Host(rawURL), domain)
}

// Domains lists every registered domain.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for d := range r.handlers {
		out = append(out, d)
	}
	return out
}
