package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/utafrali/cartengine/internal/cart"
	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/persistence"
	"github.com/utafrali/cartengine/internal/repository"
	apperrors "github.com/utafrali/cartengine/pkg/errors"
)

// EventPublisher receives committed cart snapshots. It is optional.
type EventPublisher interface {
	PublishCartUpdated(ctx context.Context, sessionID, operation string, cart domain.Cart) error
	PublishCartCleared(ctx context.Context, sessionID string, version uint64) error
}

// CartService maps shopper sessions to their cart stores. Each session has
// its own persistence key; stores are built and loaded on first use.
type CartService struct {
	checker   cart.StockChecker
	storage   repository.Storage
	namespace string
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	ready       chan struct{}
	store       *cart.Store
	unsubscribe func()
	lastUsed    time.Time
}

// NewCartService creates a new cart service. publisher may be nil.
func NewCartService(checker cart.StockChecker, storage repository.Storage, namespace string, publisher EventPublisher, logger *slog.Logger) *CartService {
	return &CartService{
		checker:   checker,
		storage:   storage,
		namespace: namespace,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		sessions:  make(map[string]*session),
	}
}

// Store returns the cart store for sessionID, loading it from storage the
// first time the session is seen.
func (s *CartService) Store(ctx context.Context, sessionID string) (*cart.Store, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		sess.lastUsed = s.now()
		s.mu.Unlock()

		select {
		case <-sess.ready:
			return sess.store, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for cart %s: %w", sessionID, ctx.Err())
		}
	}

	sess = &session{ready: make(chan struct{}), lastUsed: s.now()}
	s.sessions[sessionID] = sess
	s.mu.Unlock()

	s.open(ctx, sessionID, sess)
	return sess.store, nil
}

// open builds the store outside the registry lock so one slow load does not
// stall other sessions.
func (s *CartService) open(ctx context.Context, sessionID string, sess *session) {
	defer close(sess.ready)

	logger := s.logger.With(slog.String("session_id", sessionID))
	adapter := persistence.NewAdapter(s.storage, persistence.Key(s.namespace, sessionID), logger)
	store := cart.NewStore(context.WithoutCancel(ctx), s.checker, adapter, logger)

	unsubscribe := func() {}
	if s.publisher != nil {
		unsubscribe = store.Subscribe(s.publish(sessionID))
	}

	sess.store = store
	sess.unsubscribe = unsubscribe

	logger.DebugContext(ctx, "cart session loaded",
		slog.Int("lines", len(store.Snapshot().Items)),
	)
}

func (s *CartService) publish(sessionID string) cart.Observer {
	return func(ch cart.Change) {
		ctx := ch.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		var err error
		switch ch.Operation {
		case cart.OpOpen, cart.OpClose:
			return
		case cart.OpClear:
			err = s.publisher.PublishCartCleared(ctx, sessionID, ch.Cart.Version)
		default:
			err = s.publisher.PublishCartUpdated(ctx, sessionID, string(ch.Operation), ch.Cart)
		}
		if err != nil {
			s.logger.Warn("failed to publish cart event",
				slog.String("session_id", sessionID),
				slog.String("operation", string(ch.Operation)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Sweep drops stores that have not been used for longer than idle and
// returns how many were dropped. Committed state lives in storage, so a
// dropped session reloads on its next request.
func (s *CartService) Sweep(idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	var evicted []*session
	for id, sess := range s.sessions {
		select {
		case <-sess.ready:
		default:
			continue
		}
		if sess.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			evicted = append(evicted, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range evicted {
		sess.unsubscribe()
	}
	if len(evicted) > 0 {
		s.logger.Debug("evicted idle cart sessions", slog.Int("count", len(evicted)))
	}
	return len(evicted)
}

// Sessions returns the number of sessions currently held in memory.
func (s *CartService) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *CartService) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(idle)
		}
	}
}
