package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopbridge/golang_services/internal/core_domain"
	"github.com/shopbridge/golang_services/internal/delivery_service/adapters/chat"
	deliveryDomain "github.com/shopbridge/golang_services/internal/delivery_service/domain"
	"github.com/shopbridge/golang_services/internal/engagement_service/domain"
	"golang.org/x/time/rate"
)

// WelcomeOutcome is the result of one gate check.
type WelcomeOutcome string

const (
	WelcomeEnqueued    WelcomeOutcome = "enqueued"
	WelcomeDisabled    WelcomeOutcome = "disabled"
	WelcomeUntracked   WelcomeOutcome = "untracked"
	WelcomeAlreadySent WelcomeOutcome = "already_sent"
	WelcomeDeparted    WelcomeOutcome = "departed"
	WelcomeOptedOut    WelcomeOutcome = "opted_out"
	WelcomeUnverified  WelcomeOutcome = "unverified"
)

// MemberDirectory answers live membership questions. *chat.Client satisfies it.
type MemberDirectory interface {
	GetGuildMember(ctx context.Context, userID string) (*chat.GuildMember, error)
}

// Enqueuer is the outbound queue producer.
type Enqueuer interface {
	Enqueue(ctx context.Context, dest deliveryDomain.Destination, payload deliveryDomain.Payload, opts ...deliveryDomain.Option) (*deliveryDomain.QueuedMessage, error)
}

type SettingsReader interface {
	IsEnabled(ctx context.Context, key string) (bool, error)
}

type Config struct {
	WelcomeDelay    time.Duration
	SweepBatch      int
	SweepDelay      time.Duration
	VerifiedRoleID  string
	ClosedDmsRoleID string
	RequireVerified bool
	Template        string
}

// Engagement schedules one welcome message per member, WelcomeDelay after join.
// Every gate is checked again when the timer fires, and a periodic sweep
// catches members whose timers were lost.
type Engagement struct {
	cfg       Config
	repo      domain.MemberRepository
	directory MemberDirectory
	queue     Enqueuer
	settings  SettingsReader
	logger    *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

func NewEngagement(cfg Config, repo domain.MemberRepository, directory MemberDirectory, queue Enqueuer, settings SettingsReader, logger *slog.Logger) *Engagement {
	if cfg.Template == "" {
		cfg.Template = "welcome_dm"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engagement{
		cfg:       cfg,
		repo:      repo,
		directory: directory,
		queue:     queue,
		settings:  settings,
		logger:    logger.With("service", "engagement"),
		timers:    make(map[string]*time.Timer),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// HandleMemberEvent applies a membership change reported by the chat gateway.
func (e *Engagement) HandleMemberEvent(ctx context.Context, ev domain.MemberEvent) error {
	at := ev.At
	if at.IsZero() {
		at = e.now()
	}
	at = at.UTC()

	var err error
	switch ev.Type {
	case domain.EventJoined:
		err = e.repo.UpsertMember(ctx, &domain.MemberRecord{
			UserID:           ev.UserID,
			IsVerified:       ev.HasRole(e.cfg.VerifiedRoleID),
			HasClosedDmsRole: ev.HasRole(e.cfg.ClosedDmsRoleID),
			StillInServer:    true,
			JoinedAt:         at,
		})
		if err == nil {
			e.Schedule(ev.UserID, at.Add(e.cfg.WelcomeDelay))
		}
	case domain.EventLeft:
		e.Cancel(ev.UserID)
		gone := false
		err = e.repo.UpdateMemberFields(ctx, ev.UserID, domain.MemberUpdate{StillInServer: &gone})
		if errors.Is(err, domain.ErrMemberNotFound) {
			err = nil
		}
	case domain.EventRolesUpdated:
		verified, closed := ev.HasRole(e.cfg.VerifiedRoleID), ev.HasRole(e.cfg.ClosedDmsRoleID)
		err = e.repo.UpdateMemberFields(ctx, ev.UserID, domain.MemberUpdate{IsVerified: &verified, HasClosedDmsRole: &closed})
		if errors.Is(err, domain.ErrMemberNotFound) {
			e.logger.DebugContext(ctx, "Role update for untracked member ignored", "user_id", ev.UserID)
			err = nil
		}
	default:
		err = fmt.Errorf("%w: unknown member event type %q", core_domain.ErrValidation, ev.Type)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		e.logger.ErrorContext(ctx, "Error handling member event", "error", err, "type", ev.Type, "user_id", ev.UserID)
	}
	memberEventsCounter.WithLabelValues(string(ev.Type), outcome).Inc()
	return err
}

// Schedule arms (or re-arms) the welcome timer for userID.
func (e *Engagement) Schedule(userID string, fireAt time.Time) {
	delay := fireAt.Sub(e.now())
	if delay < 0 {
		delay = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		return
	}
	if t, ok := e.timers[userID]; ok {
		t.Stop()
	}
	e.timers[userID] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, userID)
		pendingTimersGauge.Set(float64(len(e.timers)))
		e.mu.Unlock()

		if _, err := e.checkAndEnqueue(e.ctx, userID, "timer"); err != nil {
			e.logger.ErrorContext(e.ctx, "Welcome timer failed, sweep will retry", "error", err, "user_id", userID)
		}
	})
	pendingTimersGauge.Set(float64(len(e.timers)))
	e.logger.Debug("Welcome scheduled", "user_id", userID, "fire_at", fireAt)
}

// Cancel disarms a pending welcome timer.
func (e *Engagement) Cancel(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[userID]; ok {
		t.Stop()
		delete(e.timers, userID)
		pendingTimersGauge.Set(float64(len(e.timers)))
	}
}

// PendingTimers returns the number of armed timers.
func (e *Engagement) PendingTimers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// FireWelcome runs the welcome gates for userID now.
func (e *Engagement) FireWelcome(ctx context.Context, userID string) (WelcomeOutcome, error) {
	return e.checkAndEnqueue(ctx, userID, "manual")
}

func (e *Engagement) checkAndEnqueue(ctx context.Context, userID, trigger string) (WelcomeOutcome, error) {
	outcome, err := e.welcome(ctx, userID)
	label := string(outcome)
	if err != nil {
		label = "error"
	}
	welcomeOutcomesCounter.WithLabelValues(trigger, label).Inc()
	return outcome, err
}

func (e *Engagement) welcome(ctx context.Context, userID string) (WelcomeOutcome, error) {
	logger := e.logger.With("user_id", userID)

	enabled, err := e.settings.IsEnabled(ctx, core_domain.SettingAutoDMEnabled)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", core_domain.SettingAutoDMEnabled, err)
	}
	if !enabled {
		return WelcomeDisabled, nil
	}

	rec, err := e.repo.GetMember(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrMemberNotFound) {
			return WelcomeUntracked, nil
		}
		return "", err
	}
	if rec.WelcomeDMSent {
		return WelcomeAlreadySent, nil
	}
	if !rec.StillInServer {
		return WelcomeDeparted, nil
	}

	member, err := e.directory.GetGuildMember(ctx, userID)
	if err != nil {
		if errors.Is(err, chat.ErrUnknownMember) {
			gone := false
			if uerr := e.repo.UpdateMemberFields(ctx, userID, domain.MemberUpdate{StillInServer: &gone}); uerr != nil {
				logger.WarnContext(ctx, "Failed to record member departure", "error", uerr)
			}
			logger.InfoContext(ctx, "Member left before welcome, skipping")
			return WelcomeDeparted, nil
		}
		return "", fmt.Errorf("look up member %s: %w", userID, err)
	}

	// Closed DMs from either source blocks the welcome; only a roles_updated
	// event clears the stored flag. The live verified role wins when configured.
	closed := rec.HasClosedDmsRole
	verified := rec.IsVerified
	if e.cfg.ClosedDmsRoleID != "" && member.HasRole(e.cfg.ClosedDmsRoleID) {
		closed = true
	}
	if e.cfg.VerifiedRoleID != "" {
		verified = member.HasRole(e.cfg.VerifiedRoleID)
	}
	if closed != rec.HasClosedDmsRole || verified != rec.IsVerified {
		if uerr := e.repo.UpdateMemberFields(ctx, userID, domain.MemberUpdate{IsVerified: &verified, HasClosedDmsRole: &closed}); uerr != nil {
			logger.WarnContext(ctx, "Failed to refresh member roles", "error", uerr)
		}
	}
	if closed {
		logger.InfoContext(ctx, "Member has closed DMs, skipping welcome")
		return WelcomeOptedOut, nil
	}
	if e.cfg.RequireVerified && !verified {
		return WelcomeUnverified, nil
	}

	// Claim before enqueueing so that a timer and the sweep can never both send.
	claimed, err := e.repo.ClaimWelcomeDM(ctx, userID, e.now().UTC())
	if err != nil {
		return "", err
	}
	if !claimed {
		return WelcomeAlreadySent, nil
	}
	msg, err := e.queue.Enqueue(ctx, deliveryDomain.User(userID), deliveryDomain.AutoDirectMessagePayload{
		UserID:   userID,
		Template: e.cfg.Template,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Enqueue failed after claim, releasing", "error", err)
		if rerr := e.repo.ReleaseWelcomeDM(ctx, userID); rerr != nil {
			logger.ErrorContext(ctx, "Welcome claim left set without a queued message", "error", rerr)
		}
		return "", fmt.Errorf("enqueue welcome for %s: %w", userID, err)
	}
	logger.InfoContext(ctx, "Welcome message enqueued", "message_id", msg.ID)
	return WelcomeEnqueued, nil
}

// Sweep checks a bounded batch of members who joined more than WelcomeDelay ago
// and were never welcomed. It matches worker.TaskFunc.
func (e *Engagement) Sweep(ctx context.Context) error {
	cutoff := e.now().UTC().Add(-e.cfg.WelcomeDelay)
	candidates, err := e.repo.ListWelcomeCandidates(ctx, cutoff, e.cfg.SweepBatch)
	if err != nil {
		return fmt.Errorf("list welcome candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	limit := rate.Inf
	if e.cfg.SweepDelay > 0 {
		limit = rate.Every(e.cfg.SweepDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	var enqueued, failed int
	for _, m := range candidates {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		outcome, err := e.checkAndEnqueue(ctx, m.UserID, "sweep")
		if err != nil {
			failed++
			e.logger.ErrorContext(ctx, "Sweep welcome failed, continuing", "error", err, "user_id", m.UserID)
			continue
		}
		if outcome == WelcomeEnqueued {
			enqueued++
		}
	}
	e.logger.InfoContext(ctx, "Welcome sweep finished", "candidates", len(candidates), "enqueued", enqueued, "failed", failed)
	return nil
}

// Stop cancels every pending timer. Members still due are picked up by the
// sweep after restart.
func (e *Engagement) Stop() {
	e.cancel()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	pendingTimersGauge.Set(0)
}
