// Package tracker implements the Tracker Synchronizer (C4): it reconciles
// UserStory and Defect rows with an external issue tracker, mapping tracker
// items to Store rows by tracker reference.
package tracker

import "context"

// Item is a single external tracker item as returned by a Client, before
// mapping to a Store entity.
type Item struct {
	Ref      string // external id, e.g. "US-7421" in the tracker's own numbering
	Title    string
	Status   string // free-form label, mapped via config.EngineConfig.StatusMapping
	Body     string
	Labels   []string
	Assignee string // tracker-assigned owner, used for velocity attribution (§4.4.3)
}

// Page is one page of tracker items plus the cursor to resume from.
type Page struct {
	Items     []Item
	NextToken string
	HasMore   bool
}

// Client is the tracker-agnostic transport boundary (§4.2). The shipped
// implementation (HTTPClient) talks to an HTTP issue tracker; tests and
// sync_entity callers can substitute any other Client.
type Client interface {
	// ListPage fetches one page of items changed since the given cursor.
	// An empty since fetches from the beginning (sync_full).
	ListPage(ctx context.Context, since string) (Page, error)

	// GetByRef fetches a single item by its external reference
	// (sync_entity). ok is false if the tracker has no such item.
	GetByRef(ctx context.Context, ref string) (item Item, ok bool, err error)

	// CreateItem pushes a new item to the tracker, used to mirror an
	// auto-created Defect out (§4.3 step 2, fire-and-forget). Returns the
	// tracker-assigned reference.
	CreateItem(ctx context.Context, item Item) (ref string, err error)
}
