// Package persistence saves workflow results as bots, choosing between
// create and update based on the identity remembered for the current
// strategy.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aristath/botstudio/internal/domain"
	"github.com/aristath/botstudio/internal/events"
	"github.com/rs/zerolog"
)

const moduleName = "persistence"

// BotStore is the remote persistence backend
type BotStore interface {
	CreateBot(ctx context.Context, bot domain.Bot) (string, error)
	UpdateBot(ctx context.Context, id string, bot domain.Bot) error
}

// ExpiryNotifier is told when a save reported expired credentials
type ExpiryNotifier interface {
	NotifyExpired()
}

// NamePrompter asks the user for a bot name. ok is false when the user
// declined.
type NamePrompter func(ctx context.Context, bot domain.Bot) (name string, ok bool)

// AfterSaveHook runs after every successful save with the saved bot
type AfterSaveHook func(ctx context.Context, bot domain.Bot) error

// SaveOptions modifies a single save
type SaveOptions struct {
	Auto bool // Triggered by the system rather than the user
}

// SaveResult describes a successful save
type SaveResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// Reconciler is the only writer of the persisted bot identity.
type Reconciler struct {
	store  BotStore
	expiry ExpiryNotifier
	prompt NamePrompter
	events *events.Manager
	log    zerolog.Logger
	now    func() time.Time

	saveMu sync.Mutex // One save at a time

	mu    sync.Mutex
	id    string
	epoch uint64 // Bumped by Reset so a create that outlives it is not remembered
	hooks []AfterSaveHook
}

// NewReconciler creates a reconciler with no remembered identity. expiry and
// prompt may be nil.
func NewReconciler(store BotStore, expiry ExpiryNotifier, prompt NamePrompter, eventManager *events.Manager, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		expiry: expiry,
		prompt: prompt,
		events: eventManager,
		now:    time.Now,
		log:    log.With().Str("component", "persistence_reconciler").Logger(),
	}
}

// OnSaved registers a hook run after each successful save
func (r *Reconciler) OnSaved(hook AfterSaveHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Remember records the identity of a bot persisted elsewhere (for example
// by the pipeline on completion)
func (r *Reconciler) Remember(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = id
	r.log.Debug().Str("bot_id", id).Msg("Remembered bot identity")
}

// ID returns the remembered identity, empty if none
func (r *Reconciler) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// Reset forgets the identity. Called when a new logical strategy begins.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = ""
	r.epoch++
}

// Save persists bot. Repeated saves of the same strategy update the same
// remote record.
//
// Auto saves never fail loudly: anything but an authentication expiry is
// logged and reported as (nil, nil).
func (r *Reconciler) Save(ctx context.Context, bot domain.Bot, opts SaveOptions) (*SaveResult, error) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	name := strings.TrimSpace(bot.Name)
	if name == "" {
		if opts.Auto {
			name = bot.DefaultName(r.now())
		} else {
			if r.prompt == nil {
				return nil, domain.ErrSaveAborted
			}
			prompted, ok := r.prompt(ctx, bot)
			prompted = strings.TrimSpace(prompted)
			if !ok || prompted == "" {
				return nil, domain.ErrSaveAborted
			}
			name = prompted
		}
	}
	bot.Name = name

	r.mu.Lock()
	id, epoch := r.id, r.epoch
	r.mu.Unlock()

	result := &SaveResult{ID: id}
	var err error
	if id != "" {
		bot.ID = id
		err = r.store.UpdateBot(ctx, id, bot)
	} else {
		var newID string
		newID, err = r.store.CreateBot(ctx, bot)
		if err == nil {
			result.ID, result.Created = newID, true
			bot.ID = newID
			r.mu.Lock()
			if r.epoch == epoch {
				r.id = newID
			}
			r.mu.Unlock()
		}
	}

	if err != nil {
		return r.saveFailed(bot, opts, err)
	}

	r.log.Info().
		Str("bot_id", result.ID).
		Bool("created", result.Created).
		Bool("auto", opts.Auto).
		Msg("Bot saved")
	r.events.EmitTyped(moduleName, &events.BotSavedData{
		BotID:   result.ID,
		Name:    bot.Name,
		Created: result.Created,
		Auto:    opts.Auto,
	})
	r.runHooks(ctx, bot)

	return result, nil
}

func (r *Reconciler) saveFailed(bot domain.Bot, opts SaveOptions, err error) (*SaveResult, error) {
	r.events.EmitTyped(moduleName, &events.BotSaveFailedData{
		BotID: bot.ID,
		Error: err.Error(),
		Auto:  opts.Auto,
	})

	if domain.IsAuthExpired(err) {
		if r.expiry != nil {
			r.expiry.NotifyExpired()
		}
		var authErr *domain.AuthExpiredError
		if errors.As(err, &authErr) {
			r.events.EmitTyped(moduleName, &events.AuthExpiredData{Operation: authErr.Op})
		}
		r.log.Warn().Err(err).Msg("Save rejected, authentication expired")
		return nil, err
	}

	if opts.Auto {
		r.log.Warn().Err(err).Str("bot_id", bot.ID).Msg("Auto-save failed")
		return nil, nil
	}

	r.log.Error().Err(err).Str("bot_id", bot.ID).Msg("Failed to save bot")
	return nil, fmt.Errorf("failed to save bot: %w", err)
}

func (r *Reconciler) runHooks(ctx context.Context, bot domain.Bot) {
	r.mu.Lock()
	hooks := append([]AfterSaveHook(nil), r.hooks...)
	r.mu.Unlock()

	for _, hook := range hooks {
		if err := hook(ctx, bot); err != nil {
			r.log.Warn().Err(err).Str("bot_id", bot.ID).Msg("After-save hook failed")
		}
	}
}
