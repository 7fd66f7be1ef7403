package console

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/vigil/internal/gateway"
	"github.com/pitabwire/vigil/model"
)

// ReviewPageID is the page the review workflow operates on.
const ReviewPageID = "plugins"

// refreshConcurrency bounds parallel page refreshes.
const refreshConcurrency = 4

// Console owns one ListPage per page definition and the review workflow.
// Load may be called again after definitions are reloaded; the previous
// pages are closed and their state discarded.
type Console struct {
	caller     gateway.Caller
	pageOpts   []PageOption
	reviewOpts []ReviewOption
	logger     *zap.Logger

	mu     sync.RWMutex
	pages  map[string]*ListPage
	review *ReviewConsole
}

// New creates an empty console. pageOpts and reviewOpts are applied to
// every page and to the review workflow.
func New(caller gateway.Caller, logger *zap.Logger, pageOpts []PageOption, reviewOpts []ReviewOption) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{
		caller:     caller,
		pageOpts:   pageOpts,
		reviewOpts: reviewOpts,
		logger:     logger,
		pages:      make(map[string]*ListPage),
	}
}

// Load builds pages for defs and swaps them in.
func (c *Console) Load(defs []model.PageDefinition) error {
	pages := make(map[string]*ListPage, len(defs))
	for _, def := range defs {
		opts := append([]PageOption{WithPageLogger(c.logger)}, c.pageOpts...)
		p, err := NewListPage(def, c.caller, opts...)
		if err != nil {
			for _, built := range pages {
				built.Close()
			}
			return err
		}
		pages[def.ID] = p
	}

	var review *ReviewConsole
	if p, ok := pages[ReviewPageID]; ok {
		opts := append([]ReviewOption{WithReviewLogger(c.logger)}, c.reviewOpts...)
		review = NewReviewConsole(p, c.caller, opts...)
	}

	c.mu.Lock()
	old := c.pages
	c.pages, c.review = pages, review
	c.mu.Unlock()

	for _, p := range old {
		p.Close()
	}
	c.logger.Info("console pages loaded", zap.Int("pages", len(pages)), zap.Bool("review", review != nil))
	return nil
}

// Page returns the page with the given id.
func (c *Console) Page(id string) (*ListPage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pages[id]
	return p, ok
}

// Pages returns the loaded page definitions ordered by id.
func (c *Console) Pages() []model.PageDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs := make([]model.PageDefinition, 0, len(c.pages))
	for _, p := range c.pages {
		defs = append(defs, p.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Review returns the review workflow, if a review page is defined.
func (c *Console) Review() (*ReviewConsole, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.review, c.review != nil
}

// RefreshAll refreshes every page concurrently. Each failure is already
// reported by its page; the first one is returned.
func (c *Console) RefreshAll(ctx context.Context) error {
	c.mu.RLock()
	pages := make([]*ListPage, 0, len(c.pages))
	for _, p := range c.pages {
		pages = append(pages, p)
	}
	c.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(refreshConcurrency)
	for _, p := range pages {
		g.Go(func() error { return p.Refresh(ctx) })
	}
	return g.Wait()
}

// Close closes every page.
func (c *Console) Close() {
	c.mu.Lock()
	pages := c.pages
	c.pages, c.review = map[string]*ListPage{}, nil
	c.mu.Unlock()
	for _, p := range pages {
		p.Close()
	}
}
