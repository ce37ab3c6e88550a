package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gonogo/rtm/internal/config"
	"github.com/gonogo/rtm/internal/rtm"
	"github.com/gonogo/rtm/internal/store"
)

// SyncReport summarizes one sync_full/sync_incremental run (§4.2).
type SyncReport struct {
	ItemsProcessed     int
	UserStoriesCreated int
	UserStoriesUpdated int
	DefectsCreated     int
	DefectsUpdated     int
	EpicItemsSkipped   int

	// UnrecognizedStatusLabels lists "ref: label" pairs the configured
	// StatusMapping had no entry for (§4.2: "unknown labels... are
	// reported").
	UnrecognizedStatusLabels []string

	// Errors lists "ref: message" pairs for items that failed to apply;
	// the rest of the page still commits (§4.2 Failure semantics "partial
	// page: items already committed stay committed").
	Errors []string
}

func (r *SyncReport) recordError(ref string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", ref, err))
}

// Synchronizer implements the Tracker Synchronizer component (C4).
type Synchronizer struct {
	client  store.SyncStore
	tracker Client
	cfg     config.EngineConfig
	logger  *slog.Logger
}

// New constructs a Synchronizer. A nil logger falls back to slog.Default.
func New(tracker Client, st store.SyncStore, cfg config.EngineConfig, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{client: st, tracker: tracker, cfg: cfg, logger: logger}
}

// SyncFull performs a full reconciliation: a paginated pull of every
// tracker item matching configured filters, ignoring any persisted cursor
// (§4.2 sync_full).
func (s *Synchronizer) SyncFull(ctx context.Context) (*SyncReport, error) {
	return s.syncPages(ctx, "")
}

// SyncIncremental performs a delta pull using the persisted since_token
// (§4.2 sync_incremental).
func (s *Synchronizer) SyncIncremental(ctx context.Context) (*SyncReport, error) {
	since, err := s.client.GetSinceToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("tracker: load since token: %w", err)
	}
	return s.syncPages(ctx, since)
}

// SyncEntity fetches and applies a single tracker item on demand (§4.2
// sync_entity), used by the Execution Collector when it needs to link a
// newly-created Defect. Returns nil, nil if the tracker has no such item.
func (s *Synchronizer) SyncEntity(ctx context.Context, trackerRef string) (*rtm.UserStory, *rtm.Defect, error) {
	item, ok, err := s.tracker.GetByRef(ctx, trackerRef)
	if err != nil {
		return nil, nil, fmt.Errorf("tracker: fetch %s: %w", trackerRef, err)
	}
	if !ok {
		return nil, nil, nil
	}

	var report SyncReport
	us, def, err := s.applyItem(ctx, item, &report)
	return us, def, err
}

// ResolveOrphans re-links UserStories waiting on epicID and clears their
// orphan flag, for callers that just created that Epic locally (scenario
// 3).
func (s *Synchronizer) ResolveOrphans(ctx context.Context, epicID string) (int, error) {
	return s.client.ResolveOrphans(ctx, epicID)
}

// MirrorDefect pushes an auto-created Defect to the tracker and records
// the assigned reference, fire-and-forget: a failure here never blocks the
// Defect being usable locally (§4.3 step 2).
func (s *Synchronizer) MirrorDefect(ctx context.Context, defect rtm.Defect) {
	item := Item{
		Title: defect.Title,
		Status: func() string {
			for label, mapped := range s.cfg.StatusMapping {
				if mapped == string(defect.Status) {
					return label
				}
			}
			return string(defect.Status)
		}(),
	}

	ref, err := s.tracker.CreateItem(ctx, item)
	if err != nil {
		s.logger.Warn("mirror defect to tracker failed", slog.String("defect_id", defect.ID), slog.String("error", err.Error()))
		return
	}

	if err := s.client.SetDefectTrackerRef(ctx, defect.ID, ref); err != nil {
		s.logger.Warn("record mirrored tracker ref failed", slog.String("defect_id", defect.ID), slog.String("error", err.Error()))
	}
}

// syncPages drives the paginated pull loop from since through to the last
// page (§4.2 Algorithm). The since_token is persisted only after every item
// in a page has committed.
func (s *Synchronizer) syncPages(ctx context.Context, since string) (*SyncReport, error) {
	overall := s.cfg.SyncOverallBudget
	if overall <= 0 {
		overall = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, overall)
	defer cancel()

	report := &SyncReport{}
	token := since

	for {
		page, err := s.fetchPageWithRetry(ctx, token)
		if err != nil {
			return report, fmt.Errorf("tracker: fetch page: %w", err)
		}

		for _, item := range page.Items {
			report.ItemsProcessed++
			us, def, err := s.applyItem(ctx, item, report)
			if err != nil {
				report.recordError(item.Ref, err)
				continue
			}
			switch {
			case us != nil:
			case def != nil:
			default:
				report.EpicItemsSkipped++
			}
		}

		if err := s.client.SetSinceToken(ctx, page.NextToken); err != nil {
			return report, fmt.Errorf("tracker: persist since token: %w", err)
		}

		if !page.HasMore {
			break
		}
		token = page.NextToken
	}

	return report, nil
}

// fetchPageWithRetry fetches one page with exponential backoff and jitter,
// bounded by SyncRetryBudget (§4.2 Failure semantics). The since_token is
// never advanced on a failed fetch — the caller only persists it after a
// page's items commit.
func (s *Synchronizer) fetchPageWithRetry(ctx context.Context, since string) (Page, error) {
	maxRetries := s.cfg.SyncRetryBudget
	if maxRetries <= 0 {
		maxRetries = 5
	}
	perRequest := s.cfg.SyncPerRequestDeadline
	if perRequest <= 0 {
		perRequest = 10 * time.Second
	}

	var page Page

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	withRetries := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries)), ctx)

	err := backoff.Retry(func() error {
		reqCtx, cancel := context.WithTimeout(ctx, perRequest)
		defer cancel()

		p, err := s.tracker.ListPage(reqCtx, since)
		if err != nil {
			s.logger.Warn("tracker page fetch failed, retrying", slog.String("error", err.Error()))
			return err
		}
		page = p
		return nil
	}, withRetries)

	return page, err
}

// applyItem maps and upserts a single tracker item within its own
// transaction (§4.2 step 2). Epic items are metadata-only and are never
// written by the Synchronizer (both returns nil).
func (s *Synchronizer) applyItem(ctx context.Context, item Item, report *SyncReport) (*rtm.UserStory, *rtm.Defect, error) {
	switch classify(item.Ref) {
	case entityUserStory:
		story, recognized := mapUserStory(item, s.cfg.StatusMapping)
		if !recognized {
			report.UnrecognizedStatusLabels = append(report.UnrecognizedStatusLabels, fmt.Sprintf("%s: %s", item.Ref, item.Status))
		}

		created, err := s.client.UpsertUserStoryByTrackerRef(ctx, &story)
		if err != nil {
			return nil, nil, err
		}
		if created {
			report.UserStoriesCreated++
		} else {
			report.UserStoriesUpdated++
		}
		return &story, nil, nil

	case entityDefect:
		defect, recognized := mapDefect(item, s.cfg.StatusMapping)
		if !recognized {
			report.UnrecognizedStatusLabels = append(report.UnrecognizedStatusLabels, fmt.Sprintf("%s: %s", item.Ref, item.Status))
		}

		created, err := s.client.UpsertDefectByTrackerRef(ctx, &defect)
		if err != nil {
			return nil, nil, err
		}
		if created {
			report.DefectsCreated++
		} else {
			report.DefectsUpdated++
		}
		return nil, &defect, nil

	case entityEpic:
		// Epic body is authored locally; the tracker item carries no
		// writable content (§4.2 mapping contract).
		return nil, nil, nil

	default:
		return nil, nil, fmt.Errorf("tracker: unrecognized ref prefix %q", item.Ref)
	}
}
