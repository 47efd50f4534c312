// Package httpengine drives a remote processing engine over its JSON HTTP API.
package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tendant/xtal-pipeline/internal/capture"
	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/crystal"
	"github.com/tendant/xtal-pipeline/internal/engine"
)

// Client implements engine.Engine against a remote engine service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRateLimit paces requests to at most rps per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a client for the engine service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ engine.Engine = (*Client)(nil)

type spotsRequest struct {
	Image    string            `json:"image"`
	Settings config.Processing `json:"settings"`
}

type reflectionsResponse struct {
	Reflections crystal.ObservationSet `json:"reflections"`
	Console     []string               `json:"console,omitempty"`
}

type indexRequest struct {
	Image       string                 `json:"image"`
	Settings    config.Processing      `json:"settings"`
	Reflections crystal.ObservationSet `json:"reflections"`
}

type modelResponse struct {
	Crystal     *crystal.Model         `json:"crystal"`
	Reflections crystal.ObservationSet `json:"reflections"`
	Console     []string               `json:"console,omitempty"`
}

type bravaisRequest struct {
	Settings         config.Processing      `json:"settings"`
	OutlierAlgorithm string                 `json:"outlier_algorithm"`
	LepageMaxDelta   float64                `json:"lepage_max_delta"`
	RefinerVerbosity int                    `json:"refiner_verbosity"`
	Crystal          *crystal.Model         `json:"crystal"`
	Reflections      crystal.ObservationSet `json:"reflections"`
}

type bravaisResponse struct {
	Solutions []crystal.BravaisSolution `json:"solutions"`
	Console   []string                  `json:"console,omitempty"`
}

type modelRequest struct {
	Settings    config.Processing      `json:"settings"`
	Crystal     *crystal.Model         `json:"crystal"`
	Reflections crystal.ObservationSet `json:"reflections"`
}

type frameResponse struct {
	Frame   *engine.Frame `json:"frame"`
	Console []string      `json:"console,omitempty"`
}

// errorResponse is the body of any non-2xx reply. Crystal carries the model
// state the engine left behind, if it changed it before failing.
type errorResponse struct {
	Class   string         `json:"class"`
	Message string         `json:"message"`
	Console []string       `json:"console,omitempty"`
	Crystal *crystal.Model `json:"crystal,omitempty"`
}

// FindSpots implements engine.SpotFinder.
func (c *Client) FindSpots(ctx context.Context, image string, settings config.Processing) (crystal.ObservationSet, error) {
	var resp reflectionsResponse
	if err := c.call(ctx, "/v1/find_spots", spotsRequest{Image: image, Settings: settings}, &resp, nil); err != nil {
		return nil, err
	}
	echo(ctx, resp.Console)
	return resp.Reflections, nil
}

// Index implements engine.Indexer.
func (c *Client) Index(ctx context.Context, image string, settings config.Processing, spots crystal.ObservationSet) (*crystal.Model, crystal.ObservationSet, error) {
	var resp modelResponse
	req := indexRequest{Image: image, Settings: settings, Reflections: spots}
	if err := c.call(ctx, "/v1/index", req, &resp, nil); err != nil {
		return nil, nil, err
	}
	echo(ctx, resp.Console)
	if resp.Crystal == nil {
		return nil, nil, &engine.Error{Class: "Sorry", Message: "engine returned no crystal model"}
	}
	return resp.Crystal, resp.Reflections, nil
}

// GenerateBravaisCandidates implements engine.CandidateGenerator. When the
// engine fails and reports the model it left behind, that state is copied
// into model, matching an in-process engine that mutates its input.
func (c *Client) GenerateBravaisCandidates(ctx context.Context, params engine.CandidateParams, model *crystal.Model, indexed crystal.ObservationSet) ([]crystal.BravaisSolution, error) {
	req := bravaisRequest{
		Settings:         params.Settings,
		OutlierAlgorithm: params.OutlierAlgorithm,
		LepageMaxDelta:   params.LepageMaxDelta,
		RefinerVerbosity: params.RefinerVerbosity,
		Crystal:          model,
		Reflections:      indexed,
	}
	var resp bravaisResponse
	err := c.call(ctx, "/v1/bravais_settings", req, &resp, func(e errorResponse) {
		if e.Crystal != nil && model != nil {
			model.Restore(e.Crystal)
		}
	})
	if err != nil {
		return nil, err
	}
	echo(ctx, resp.Console)
	return resp.Solutions, nil
}

// Refine implements engine.Refiner.
func (c *Client) Refine(ctx context.Context, settings config.Processing, model *crystal.Model, indexed crystal.ObservationSet) (*crystal.Model, crystal.ObservationSet, error) {
	var resp modelResponse
	req := modelRequest{Settings: settings, Crystal: model, Reflections: indexed.Active()}
	if err := c.call(ctx, "/v1/refine", req, &resp, nil); err != nil {
		return nil, nil, err
	}
	echo(ctx, resp.Console)
	if resp.Crystal == nil {
		return nil, nil, &engine.Error{Class: "Sorry", Message: "engine returned no refined model"}
	}
	return resp.Crystal, resp.Reflections, nil
}

// Integrate implements engine.Integrator.
func (c *Client) Integrate(ctx context.Context, settings config.Processing, model *crystal.Model, indexed crystal.ObservationSet) (*engine.Frame, error) {
	var resp frameResponse
	req := modelRequest{Settings: settings, Crystal: model, Reflections: indexed.Active()}
	if err := c.call(ctx, "/v1/integrate", req, &resp, nil); err != nil {
		return nil, err
	}
	echo(ctx, resp.Console)
	if resp.Frame == nil {
		return nil, &engine.Error{Class: "Sorry", Message: "engine returned no integrated frame"}
	}
	return resp.Frame, nil
}

func (c *Client) call(ctx context.Context, path string, in, out any, onError func(errorResponse)) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		var e errorResponse
		if jerr := json.Unmarshal(raw, &e); jerr != nil || e.Message == "" {
			return fmt.Errorf("engine %s failed with status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		echo(ctx, e.Console)
		if onError != nil {
			onError(e)
		}
		return &engine.Error{Class: e.Class, Message: e.Message}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func echo(ctx context.Context, lines []string) {
	if len(lines) == 0 {
		return
	}
	w := capture.Console(ctx)
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}
