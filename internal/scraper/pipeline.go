package scraper

import (
	"context"
	"log/slog"

	"github.com/maltedev/price-tracker/internal/browser"
	"github.com/maltedev/price-tracker/internal/sites"
)

// Pipeline tries each stage in order until one settles the URL.
type Pipeline struct {
	registry *sites.Registry
	stages   []Stage
	logger   *slog.Logger
}

func NewPipeline(registry *sites.Registry, logger *slog.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{
		registry: registry,
		stages:   stages,
		logger:   logger.With("component", "pipeline"),
	}
}

type Config struct {
	HTTP    HTTPConfig
	Browser BrowserConfig
}

// New wires the HTTP stage followed by the browser stage.
func New(registry *sites.Registry, launcher *browser.Launcher, cfg Config, logger *slog.Logger) *Pipeline {
	return NewPipeline(registry, logger,
		NewHTTPStage(cfg.HTTP),
		NewBrowserStage(launcher, registry, cfg.Browser),
	)
}

func (p *Pipeline) Fetch(ctx context.Context, req Request) Result {
	h := p.registry.Lookup(req.URL)
	url := h.NormalizeURL(req.URL)

	logger := req.Logger
	if logger == nil {
		logger = p.logger
	}
	req.Logger = logger.With("url", url, "site", h.Name())

	var (
		antiBot    bool
		lastStatus int
		lastErr    error
		lastStage  string
		fallback   *Result
	)

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			if fallback != nil {
				return *fallback
			}
			return Result{URL: url, Kind: KindHTTPError, Stage: lastStage, Err: err}
		}

		a := stage.Attempt(ctx, h, url, req)
		lastStage = stage.Name()

		switch {
		case a.NotFound:
			req.Logger.Warn("page not found", "stage", lastStage)
			return Result{URL: url, Kind: KindNotFound, StatusCode: a.StatusCode, Stage: lastStage, Err: a.Err}
		case a.Mismatch != nil:
			return Result{
				URL:          url,
				Kind:         KindNameMismatch,
				StatusCode:   a.StatusCode,
				Stage:        lastStage,
				Err:          a.Mismatch,
				ExpectedName: a.Mismatch.Expected,
				ActualName:   a.Mismatch.Actual,
			}
		case a.Found && a.Provisional:
			r := success(url, lastStage, a)
			fallback = &r
			req.Logger.Info("provisional price, trying next stage", "stage", lastStage, "price", a.Price)
			continue
		case a.Found:
			req.Logger.Info("price extracted", "stage", lastStage, "price", a.Price, "selector", a.Selector)
			return success(url, lastStage, a)
		}

		antiBot = antiBot || a.AntiBot
		if a.StatusCode != 0 {
			lastStatus = a.StatusCode
		}
		if a.Err != nil {
			lastErr = a.Err
		}
		req.Logger.Info("stage found no price", "stage", lastStage, "status", a.StatusCode, "anti_bot", a.AntiBot, "error", a.Err)
	}

	if fallback != nil {
		req.Logger.Info("price extracted", "stage", fallback.Stage, "price", fallback.Price, "selector", fallback.Selector)
		return *fallback
	}

	return classify(url, lastStage, antiBot, lastStatus, lastErr)
}

func success(url, stage string, a Attempt) Result {
	return Result{
		URL:        url,
		Kind:       KindSuccess,
		Price:      a.Price,
		Selector:   a.Selector,
		Vendor:     a.Vendor,
		StatusCode: a.StatusCode,
		Stage:      stage,
	}
}

// classify settles a URL no stage could price. Challenge markers win
// over status codes; a failure that never reached a server is reported
// as an HTTP error without status.
func classify(url, stage string, antiBot bool, status int, err error) Result {
	r := Result{URL: url, Stage: stage, StatusCode: status}

	switch {
	case antiBot:
		r.Kind = KindAntiBot
		r.Err = ErrBlocked
	case status != 0 && (status < 200 || status > 299):
		r.Kind = KindHTTPError
		r.Err = &HTTPStatusError{StatusCode: status}
	case status == 0 && err != nil:
		r.Kind = KindHTTPError
		r.Err = err
	default:
		r.Kind = KindNoPrice
		r.Err = ErrNoPrice
	}

	return r
}
