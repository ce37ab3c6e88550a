package report

import (
	"errors"
	"log/slog"

	"github.com/gonogo/rtm/internal/config"
	"github.com/gonogo/rtm/internal/store"
)

var (
	// ErrUnknownEpic indicates a requested Epic ID does not exist in the
	// Store.
	ErrUnknownEpic = errors.New("report: unknown epic")

	// ErrGraphHasCycle indicates a graph operation that assumes the blocks
	// subgraph is acyclic found a cycle anyway. The Store rejects
	// cycle-forming inserts (§4.4.2), so this surfaces only if the edge set
	// was altered outside that path.
	ErrGraphHasCycle = errors.New("report: blocks dependency graph contains a cycle")
)

// Engine is the Query & Report Engine (C6). It holds a read-only Store
// handle, the shared engine configuration, and a write-through-invalidated
// rollup cache subscribed to the Store's change notifications (§4.4.4).
// The Engine never writes (§7 "The Query Engine never writes").
type Engine struct {
	store  store.ReportStore
	cfg    config.EngineConfig
	cache  *rollupCache
	logger *slog.Logger
}

// New builds an Engine over st, subscribing its rollup cache to notifier for
// every topic a cached computation depends on.
func New(st store.ReportStore, notifier *store.Notifier, cfg config.EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store: st,
		cfg:   cfg,
		cache: newRollupCache(notifier, cfg.CacheMaxEntries,
			store.TopicEpic, store.TopicUserStory, store.TopicDefect, store.TopicTest, store.TopicEpicDependency),
		logger: logger,
	}
}

// Close releases the Engine's cache subscriptions.
func (e *Engine) Close() {
	e.cache.close()
}

func storyFilterForEpic(epicID string) store.UserStoryFilter {
	return store.UserStoryFilter{EpicID: epicID}
}
