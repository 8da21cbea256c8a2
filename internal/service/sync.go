package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/sakif/reroom-bff/internal/auth"
	"github.com/sakif/reroom-bff/internal/model"
)

// SyncOutcome is the result kind of a ProfileSyncer.Sync call.
type SyncOutcome string

const (
	SyncReconciled SyncOutcome = "reconciled"
	SyncSkipped    SyncOutcome = "skipped"
	SyncFailed     SyncOutcome = "failed"
)

// SyncResult is returned by every Sync call. Failures are values, not
// panics: sign-in must succeed even when the profile store is down, and
// the caller decides whether to log, count or retry.
type SyncResult struct {
	Outcome SyncOutcome
	Profile *model.Profile // set when Reconciled
	Reason  string         // set when Skipped or Failed
}

// SyncObserver is notified of every sync outcome. *metrics.Collector
// implements it.
type SyncObserver interface {
	ObserveSync(outcome string)
}

// ProfileSyncer runs reconciliation as the side effect of a sign-in.
//
// DEDUPLICATION:
// The same session can be announced several times (the handler calls Sync
// directly after sign-in, and the event stream delivers SignedIn too).
//
//   - concurrent calls for one session share a single reconciliation
//     (singleflight, keyed by the session key)
//   - once reconciled, the session key is stored in the SeenStore and
//     later calls are Skipped
//
// A failed reconciliation is not remembered, so the next event retries.
type ProfileSyncer struct {
	profiles *ProfileService
	seen     SeenStore
	observer SyncObserver // optional
	logger   *slog.Logger
	group    singleflight.Group
}

// NewProfileSyncer creates a ProfileSyncer. observer may be nil.
func NewProfileSyncer(profiles *ProfileService, seen SeenStore, observer SyncObserver, logger *slog.Logger) *ProfileSyncer {
	return &ProfileSyncer{profiles: profiles, seen: seen, observer: observer, logger: logger}
}

// Sync reconciles the profile of the session's identity at most once per
// session. name is forwarded to Reconcile (the sign-up form's name).
func (p *ProfileSyncer) Sync(ctx context.Context, s *auth.Session, name string) SyncResult {
	if s == nil || s.User.ID == "" {
		return p.finish(SyncResult{Outcome: SyncSkipped, Reason: "no session"})
	}
	key := s.Key()

	v, _, _ := p.group.Do(key, func() (any, error) {
		seen, err := p.seen.Seen(ctx, key)
		if err != nil {
			// The seen set is an optimisation; reconciliation is idempotent.
			p.logger.Warn("seen store unavailable", slog.String("error", err.Error()))
		}
		if seen {
			return SyncResult{Outcome: SyncSkipped, Reason: "already reconciled"}, nil
		}

		profile, err := p.profiles.Reconcile(ctx, s.User, name)
		if err != nil {
			return SyncResult{Outcome: SyncFailed, Reason: err.Error()}, nil
		}

		if err := p.seen.Remember(ctx, key); err != nil {
			p.logger.Warn("failed to remember reconciled session", slog.String("error", err.Error()))
		}
		return SyncResult{Outcome: SyncReconciled, Profile: profile}, nil
	})

	res, ok := v.(SyncResult)
	if !ok {
		res = SyncResult{Outcome: SyncFailed, Reason: fmt.Sprintf("unexpected result %T", v)}
	}
	return p.finish(res)
}

func (p *ProfileSyncer) finish(res SyncResult) SyncResult {
	if res.Outcome == SyncFailed {
		p.logger.Error("profile reconciliation failed", slog.String("reason", res.Reason))
	}
	if p.observer != nil {
		p.observer.ObserveSync(string(res.Outcome))
	}
	return res
}

// Run consumes auth events until ctx is done or the channel is closed,
// syncing on every sign-in.
func (p *ProfileSyncer) Run(ctx context.Context, events <-chan auth.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != auth.EventSignedIn {
				continue
			}
			res := p.Sync(ctx, ev.Session, "")
			p.logger.Debug("auth event processed",
				slog.String("user_id", ev.UserID),
				slog.String("outcome", string(res.Outcome)),
			)
		}
	}
}
