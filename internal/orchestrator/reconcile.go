package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/mailtriage/internal/email"
	"github.com/mixelka/mailtriage/internal/metrics"
	"github.com/mixelka/mailtriage/internal/syncstatus"
	"github.com/mixelka/mailtriage/pkg/models"
)

// ResetStuck moves accounts syncing for longer than StuckThreshold to error.
// Accounts that started within the threshold are left alone.
func (o *Orchestrator) ResetStuck(ctx context.Context) (int64, error) {
	olderThan := o.now().Add(-o.cfg.StuckThreshold)
	n, err := o.store.ResetStuckAccounts(ctx, olderThan, stuckReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.logger.Warn("reset stuck accounts", "count", n, "threshold", o.cfg.StuckThreshold)
	}
	metrics.AddStuckResets(n)
	return n, nil
}

// ResetUserStuck is the manual reset: moves the user's syncing accounts (or just
// accountID) back to active
func (o *Orchestrator) ResetUserStuck(ctx context.Context, userID int64, accountID *int64) (int64, error) {
	n, err := o.store.ResetSyncingForUser(ctx, userID, accountID)
	if err != nil {
		return 0, err
	}
	o.logger.Info("manual sync reset", "user_id", userID, "count", n)
	return n, nil
}

// AccountStatus sync status of one account as seen by a polling client
type AccountStatus struct {
	*syncstatus.Status
	Idle bool `json:"idle"`
}

// Status returns the sync status of the user's accounts, or of accountID only.
// Accounts without a status get the idle default.
func (o *Orchestrator) Status(ctx context.Context, userID int64, accountID *int64) ([]AccountStatus, error) {
	var accountIDs []int64
	if accountID != nil {
		if _, err := o.store.GetAccountForUser(ctx, userID, *accountID); err != nil {
			return nil, err
		}
		accountIDs = []int64{*accountID}
	} else {
		accounts, err := o.store.ListAccountsByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, a := range accounts {
			accountIDs = append(accountIDs, a.ID)
		}
	}

	now := o.now()
	out := make([]AccountStatus, 0, len(accountIDs))
	for _, id := range accountIDs {
		key := syncstatus.Key{UserID: userID, AccountID: id}
		s, ok, err := o.status.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to get sync status: %w", err)
		}
		if !ok {
			s = syncstatus.Idle(key)
		}
		out = append(out, AccountStatus{Status: s, Idle: s.IsIdle(now, o.cfg.StaleAfter)})
	}
	return out, nil
}

// MarkRead marks a stored message read and mirrors the flag to the provider.
// A provider failure is logged and reported through the bool; the stored flag stays set.
func (o *Orchestrator) MarkRead(ctx context.Context, userID, emailID int64) (*models.Email, bool, error) {
	msg, err := o.store.GetEmailForUser(ctx, userID, emailID)
	if err != nil {
		return nil, false, err
	}
	if err := o.store.MarkEmailAsRead(ctx, msg.ID); err != nil {
		return nil, false, err
	}
	msg.IsRead = true

	account, err := o.store.GetAccountForUser(ctx, userID, msg.AccountID)
	if err != nil {
		return msg, false, err
	}

	logger := o.logger.With("account_id", account.ID, "email_id", msg.ID)
	if err := o.markSeen(ctx, account, msg.ExternalID); err != nil {
		logger.Warn("failed to mark message read on server", "error", err, "kind", email.Kind(err))
		return msg, false, nil
	}
	return msg, true, nil
}

func (o *Orchestrator) markSeen(ctx context.Context, account *models.EmailAccount, externalID string) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.AccountTimeout)
	defer cancel()

	session, err := o.connector.Connect(ctx, account)
	if err != nil {
		return err
	}
	defer session.Disconnect()

	return session.MarkSeen(ctx, []email.MessageRef{{ID: externalID}})
}

// Run is the reconciler loop: the stuck pass every stuckEvery and, when scheduleEvery
// is positive, an in-process batch. Blocks until ctx is done.
func (o *Orchestrator) Run(ctx context.Context, stuckEvery, scheduleEvery time.Duration) {
	logger := o.logger.With("loop", "reconciler")

	stuck := time.NewTicker(stuckEvery)
	defer stuck.Stop()

	var schedule <-chan time.Time
	if scheduleEvery > 0 {
		t := time.NewTicker(scheduleEvery)
		defer t.Stop()
		schedule = t.C
	}

	logger.Info("reconciler started", "stuck_every", stuckEvery, "schedule_every", scheduleEvery)
	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciler stopped")
			return
		case <-stuck.C:
			if _, err := o.ResetStuck(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("stuck pass failed", "error", err)
			}
		case <-schedule:
			if _, err := o.RunBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduled batch failed", "error", err)
			}
		}
	}
}
