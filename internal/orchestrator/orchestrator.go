// Package orchestrator runs sync batches: it picks due accounts, syncs them with
// bounded concurrency and repairs accounts left in syncing by a crashed worker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mixelka/mailtriage/internal/classifier"
	"github.com/mixelka/mailtriage/internal/email"
	"github.com/mixelka/mailtriage/internal/ingest"
	"github.com/mixelka/mailtriage/internal/metrics"
	"github.com/mixelka/mailtriage/internal/syncstatus"
	"github.com/mixelka/mailtriage/pkg/models"
)

const (
	stuckReason      = "sync did not finish in time"
	persistTimeout   = 5 * time.Second
	reclassifyLimit  = 500
	defaultBatchSize = 50
)

// ErrSyncPanic marks an account sync that panicked
var ErrSyncPanic = errors.New("account sync panicked")

// Store account and message persistence used by the orchestrator
type Store interface {
	ListDueAccounts(ctx context.Context, cutoff time.Time, limit int) ([]*models.EmailAccount, error)
	ListAccountsByUser(ctx context.Context, userID int64) ([]*models.EmailAccount, error)
	GetAccountForUser(ctx context.Context, userID, id int64) (*models.EmailAccount, error)
	MarkSyncing(ctx context.Context, id int64) (bool, error)
	CompleteSync(ctx context.Context, id int64) error
	FailSync(ctx context.Context, id int64, syncErr string, needsReauth bool) error
	ResetStuckAccounts(ctx context.Context, olderThan time.Time, reason string) (int64, error)
	ResetSyncingForUser(ctx context.Context, userID int64, accountID *int64) (int64, error)
	ListUnclassified(ctx context.Context, accountID int64, limit int) ([]*models.Email, error)
	GetEmailForUser(ctx context.Context, userID, id int64) (*models.Email, error)
	MarkEmailAsRead(ctx context.Context, id int64) error
}

// Connector opens provider sessions, satisfied by *email.Factory
type Connector interface {
	Connect(ctx context.Context, account *models.EmailAccount) (email.Session, error)
}

// Persister stores fetched messages, satisfied by *ingest.Persister
type Persister interface {
	Upsert(ctx context.Context, accountID int64, raw *email.RawMessage) (ingest.Result, error)
}

// Classifier classifies stored messages, satisfied by *screening.Manager
type Classifier interface {
	ClassifyEmail(ctx context.Context, userID int64, e *models.Email) (classifier.Result, error)
}

// Config sync tuning
type Config struct {
	BatchSize      int           // Accounts per batch
	Concurrency    int           // Accounts synced in parallel
	FetchLimit     int           // Most recent messages fetched per account
	SyncInterval   time.Duration // Minimum time between syncs of one account
	AccountTimeout time.Duration // Deadline of a single account sync
	StuckThreshold time.Duration // Syncing longer than this is treated as crashed
	StaleAfter     time.Duration // Finished statuses older than this read as idle
}

// Orchestrator coordinates account syncs
type Orchestrator struct {
	store      Store
	connector  Connector
	persister  Persister
	classifier Classifier
	status     syncstatus.Store
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a new orchestrator
func New(store Store, connector Connector, persister Persister, classify Classifier, status syncstatus.Store, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.AccountTimeout <= 0 {
		cfg.AccountTimeout = 45 * time.Second
	}
	return &Orchestrator{
		store:      store,
		connector:  connector,
		persister:  persister,
		classifier: classify,
		status:     status,
		cfg:        cfg,
		logger:     logger.With("component", "orchestrator"),
		now:        time.Now,
	}
}

// BatchReport aggregate result of one batch, returned to the trigger caller
type BatchReport struct {
	RunID           string `json:"runId"`
	AccountsSynced  int    `json:"accountsSynced"`
	SuccessfulSyncs int    `json:"successfulSyncs"`
	FailedSyncs     int    `json:"failedSyncs"`
	EmailsFetched   int    `json:"emailsFetched"`
	EmailsProcessed int    `json:"emailsProcessed"`
	EmailsSkipped   int    `json:"emailsSkipped"`
	EmailsFailed    int    `json:"emailsFailed"`
	DurationMs      int64  `json:"durationMs"`
}

// AccountReport result of one account sync
type AccountReport struct {
	AccountID  int64
	Fetched    int
	Processed  int
	Skipped    int
	Failed     int
	Classified int
	Err        error
}

func (r *BatchReport) add(a AccountReport) {
	r.AccountsSynced++
	if a.Err != nil {
		r.FailedSyncs++
	} else {
		r.SuccessfulSyncs++
	}
	r.EmailsFetched += a.Fetched
	r.EmailsProcessed += a.Processed
	r.EmailsSkipped += a.Skipped
	r.EmailsFailed += a.Failed
}

// RunBatch syncs up to BatchSize due accounts. Cancelling ctx stops new accounts
// from starting; accounts already running finish under their own timeout. When ctx
// has a deadline, no account starts later than AccountTimeout before it, so the
// batch returns by the deadline.
func (o *Orchestrator) RunBatch(ctx context.Context) (*BatchReport, error) {
	start := o.now()
	report := &BatchReport{RunID: uuid.NewString()}
	logger := o.logger.With("run_id", report.RunID)

	cutoff := start.Add(-o.cfg.SyncInterval)
	accounts, err := o.store.ListDueAccounts(ctx, cutoff, o.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to select accounts: %w", err)
	}
	logger.Info("sync batch started", "accounts", len(accounts))

	schedCtx := ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		schedCtx, cancel = context.WithDeadline(ctx, deadline.Add(-o.cfg.AccountTimeout))
		defer cancel()
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.cfg.Concurrency)

	for _, account := range accounts {
		if schedCtx.Err() != nil {
			break
		}

		account := account
		g.Go(func() error {
			// The batch may have been cancelled while waiting for a free worker
			if schedCtx.Err() != nil {
				return nil
			}

			result, ok := o.syncAccount(context.WithoutCancel(ctx), account, report.RunID)
			if !ok {
				return nil
			}

			mu.Lock()
			report.add(result)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	duration := o.now().Sub(start)
	report.DurationMs = duration.Milliseconds()
	metrics.RecordBatch(duration)

	logger.Info("sync batch finished",
		"accounts", report.AccountsSynced,
		"successful", report.SuccessfulSyncs,
		"failed", report.FailedSyncs,
		"fetched", report.EmailsFetched,
		"processed", report.EmailsProcessed,
		"duration_ms", report.DurationMs,
	)
	return report, nil
}

// SyncAccount syncs one account outside a batch. Returns false if the account is
// already being synced by another run.
func (o *Orchestrator) SyncAccount(ctx context.Context, account *models.EmailAccount) (AccountReport, bool) {
	return o.syncAccount(ctx, account, uuid.NewString())
}

func (o *Orchestrator) syncAccount(ctx context.Context, account *models.EmailAccount, runID string) (AccountReport, bool) {
	logger := o.logger.With("account_id", account.ID, "provider", account.Provider)
	start := o.now()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.AccountTimeout)
	defer cancel()

	claimed, err := o.store.MarkSyncing(ctx, account.ID)
	if err != nil {
		logger.Error("failed to claim account", "error", err)
		return AccountReport{}, false
	}
	if !claimed {
		logger.Debug("account already syncing")
		return AccountReport{}, false
	}

	key := syncstatus.Key{UserID: account.UserID, AccountID: account.ID}
	if err := o.status.Begin(ctx, key, runID); err != nil {
		logger.Warn("failed to begin sync status", "error", err)
	}

	report := o.runGuarded(ctx, account, key, runID, logger)

	// The account deadline may have passed; the outcome must still be recorded
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer finishCancel()

	if report.Err != nil {
		needsReauth := errors.Is(report.Err, email.ErrAuthFailed)
		logger.Error("account sync failed", "error", report.Err, "kind", email.Kind(report.Err), "needs_reauth", needsReauth)

		if err := o.store.FailSync(finishCtx, account.ID, report.Err.Error(), needsReauth); err != nil {
			logger.Error("failed to record sync failure", "error", err)
		}
		if err := o.status.Fail(finishCtx, key, runID, report.Err.Error()); err != nil {
			logger.Warn("failed to update sync status", "error", err)
		}
	} else {
		if err := o.store.CompleteSync(finishCtx, account.ID); err != nil {
			logger.Error("failed to record sync completion", "error", err)
		}
		if err := o.status.Complete(finishCtx, key, runID); err != nil {
			logger.Warn("failed to update sync status", "error", err)
		}
		logger.Info("account synced",
			"fetched", report.Fetched,
			"processed", report.Processed,
			"skipped", report.Skipped,
			"failed", report.Failed,
			"classified", report.Classified,
		)
	}

	result := "success"
	if report.Err != nil {
		result = email.Kind(report.Err)
	}
	metrics.RecordAccountSync(string(account.Provider), result, o.now().Sub(start))
	return report, true
}

// runGuarded runs the pipeline and turns a panic into an account level error
func (o *Orchestrator) runGuarded(ctx context.Context, account *models.EmailAccount, key syncstatus.Key, runID string, logger *slog.Logger) (report AccountReport) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("account sync panic recovered", "panic", r, "stack", string(debug.Stack()))
			report = AccountReport{AccountID: account.ID, Err: fmt.Errorf("%w: %v", ErrSyncPanic, r)}
		}
	}()
	return o.runPipeline(ctx, account, key, runID, logger)
}

// runPipeline fetches, stores and classifies one account's recent messages.
// Message level problems are counted; only account level errors end up in Err.
func (o *Orchestrator) runPipeline(ctx context.Context, account *models.EmailAccount, key syncstatus.Key, runID string, logger *slog.Logger) AccountReport {
	report := AccountReport{AccountID: account.ID}

	session, err := o.connector.Connect(ctx, account)
	if err != nil {
		report.Err = email.Classify(err)
		return report
	}
	defer func() {
		if err := session.Disconnect(); err != nil {
			logger.Debug("failed to disconnect", "error", err)
		}
	}()

	refs, err := session.ListRecent(ctx, o.cfg.FetchLimit)
	if err != nil {
		report.Err = email.Classify(err)
		return report
	}
	o.progress(ctx, key, runID, syncstatus.Progress{Folder: "INBOX", Page: 1, EstimatedTotal: len(refs)}, logger)

	fetched, err := session.Fetch(ctx, refs)
	if err != nil {
		report.Err = email.Classify(err)
		return report
	}

	report.Fetched = len(fetched.Messages) + len(fetched.Failures)
	report.Failed = len(fetched.Failures)
	metrics.AddMessages("parse_failed", len(fetched.Failures))
	o.progress(ctx, key, runID, syncstatus.Progress{Fetched: report.Fetched, Errored: report.Failed}, logger)

	for _, raw := range fetched.Messages {
		res, err := o.persister.Upsert(ctx, account.ID, raw)
		if err != nil {
			logger.Warn("failed to store message", "external_id", raw.ExternalID, "error", err)
			report.Failed++
			metrics.AddMessages("failed", 1)
			o.progress(ctx, key, runID, syncstatus.Progress{Errored: 1}, logger)
			continue
		}

		metrics.AddMessages(string(res.Outcome), 1)
		if res.Outcome == ingest.Skipped {
			logger.Debug("message skipped", "reason", res.Reason)
			report.Skipped++
			o.progress(ctx, key, runID, syncstatus.Progress{Skipped: 1}, logger)
			continue
		}
		report.Processed++
		o.progress(ctx, key, runID, syncstatus.Progress{Synced: 1}, logger)
	}

	report.Classified = o.classifyPending(ctx, account, logger)
	return report
}

// classifyPending classifies the account's rows that have no view yet: new
// messages and rows reset by a screening undo
func (o *Orchestrator) classifyPending(ctx context.Context, account *models.EmailAccount, logger *slog.Logger) int {
	pending, err := o.store.ListUnclassified(ctx, account.ID, reclassifyLimit)
	if err != nil {
		logger.Warn("failed to list unclassified messages", "error", err)
		return 0
	}

	classified := 0
	for _, e := range pending {
		result, err := o.classifier.ClassifyEmail(ctx, account.UserID, e)
		if err != nil {
			// Left unclassified, picked up by the next sync
			logger.Warn("failed to classify message", "email_id", e.ID, "error", err)
			continue
		}
		metrics.IncrementClassified(string(result.View), string(result.Rule))
		classified++
	}
	return classified
}

func (o *Orchestrator) progress(ctx context.Context, key syncstatus.Key, runID string, p syncstatus.Progress, logger *slog.Logger) {
	if err := o.status.Update(ctx, key, runID, p); err != nil {
		logger.Debug("failed to update sync status", "error", err)
	}
}
