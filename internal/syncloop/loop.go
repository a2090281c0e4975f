package syncloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Rifat-Hossain49/MediMitro-sub001/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval    = 3 * time.Second
	defaultPollTimeout = 10 * time.Second
)

var (
	// ErrTransientPoll wraps the failure of a single poll. The loop keeps
	// running and the view keeps its previous data.
	ErrTransientPoll = errors.New("transient poll failure")
	// ErrTickInProgress is returned when a tick starts while another one has
	// not finished.
	ErrTickInProgress = errors.New("poll already in progress")
)

type State int

const (
	Idle State = iota
	Polling
	Updating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Updating:
		return "updating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Backend is the subset of the messaging API the loop reads from.
type Backend interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	FetchThread(ctx context.Context, key models.ConversationKey) ([]models.Message, error)
	MarkRead(ctx context.Context, key models.ConversationKey) error
}

type Config struct {
	// Viewer is the type of the signed-in user. Incoming messages are those
	// sent by anyone else.
	Viewer      models.SenderType
	Interval    time.Duration
	PollTimeout time.Duration
	Logger      *zap.Logger
	// OnUpdate receives a snapshot after every change of view state.
	OnUpdate func(Snapshot)
}

// Snapshot is a copy of the view state.
type Snapshot struct {
	State         State
	Conversations []models.Conversation
	Messages      []models.Message
	Selected      *models.ConversationKey
	LastUpdate    time.Time
	IsUpdating    bool
	LastError     error
}

// Loop keeps a conversation list and the selected thread in sync with the
// server by polling.
type Loop struct {
	backend     Backend
	viewer      models.SenderType
	interval    time.Duration
	pollTimeout time.Duration
	logger      *zap.Logger
	onUpdate    func(Snapshot)
	now         func() time.Time
	nudge       chan struct{}

	mu            sync.Mutex
	state         State
	conversations []models.Conversation
	messages      []models.Message
	selected      *models.ConversationKey
	generation    uint64
	lastUpdate    time.Time
	lastErr       error
}

func New(backend Backend, cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Loop{
		backend:     backend,
		viewer:      cfg.Viewer,
		interval:    cfg.Interval,
		pollTimeout: cfg.PollTimeout,
		logger:      cfg.Logger,
		onUpdate:    cfg.OnUpdate,
		now:         time.Now,
		nudge:       make(chan struct{}, 1),
		state:       Idle,
	}
}

// Run polls once immediately, then on every interval or nudge, until ctx is
// cancelled. Poll failures never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.runTick(ctx)
		case <-l.nudge:
			l.runTick(ctx)
		}
	}
}

// Nudge asks Run for a poll without waiting for the next interval. Nudges
// that arrive while one is pending are merged.
func (l *Loop) Nudge() {
	select {
	case l.nudge <- struct{}{}:
	default:
	}
}

func (l *Loop) runTick(ctx context.Context) {
	if err := l.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) && ctx.Err() == nil {
		l.logger.Warn("poll failed", zap.Error(err))
	}
}

// Tick runs one Idle -> Polling -> Updating -> Idle cycle.
func (l *Loop) Tick(ctx context.Context) error {
	l.mu.Lock()
	if l.state != Idle {
		l.mu.Unlock()
		return ErrTickInProgress
	}
	l.state = Polling
	selected := copyKey(l.selected)
	generation := l.generation
	l.mu.Unlock()
	l.notify()

	pollCtx, cancel := context.WithTimeout(ctx, l.pollTimeout)
	defer cancel()

	var conversations []models.Conversation
	var thread []models.Message
	g, gctx := errgroup.WithContext(pollCtx)
	g.Go(func() error {
		result, err := l.backend.ListConversations(gctx)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		conversations = result
		return nil
	})
	if selected != nil {
		g.Go(func() error {
			result, err := l.backend.FetchThread(gctx, *selected)
			if err != nil {
				return fmt.Errorf("fetch thread %s: %w", selected, err)
			}
			thread = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		pollErr := fmt.Errorf("%w: %w", ErrTransientPoll, err)
		l.mu.Lock()
		l.state = Idle
		l.lastErr = pollErr
		l.mu.Unlock()
		l.notify()
		return pollErr
	}

	l.mu.Lock()
	l.state = Updating
	l.conversations = conversations
	var markKey *models.ConversationKey
	// A thread fetched for a selection that has since changed is dropped.
	if selected != nil && l.generation == generation {
		l.messages = thread
		if hasUnreadIncoming(thread, l.viewer) {
			markKey = selected
		}
	}
	l.lastUpdate = l.now()
	l.lastErr = nil
	l.mu.Unlock()

	if markKey != nil {
		if err := l.backend.MarkRead(ctx, *markKey); err != nil {
			l.logger.Warn("mark read after poll", zap.String("conversation", markKey.String()), zap.Error(err))
		} else {
			l.applyLocalRead(*markKey)
		}
	}

	l.mu.Lock()
	l.state = Idle
	l.mu.Unlock()
	l.notify()
	return nil
}

// Select switches the active conversation, loads its thread and marks it
// read. Any poll still in flight for the previous selection is ignored when
// it completes.
func (l *Loop) Select(ctx context.Context, key models.ConversationKey) error {
	key = models.NewConversationKey(key.DoctorID, key.PatientID)
	if !key.Valid() {
		return errors.New("select: doctor and patient ids are required")
	}

	l.mu.Lock()
	l.generation++
	generation := l.generation
	l.selected = &key
	l.messages = nil
	l.mu.Unlock()
	l.notify()

	thread, err := l.backend.FetchThread(ctx, key)
	if err != nil {
		return fmt.Errorf("load thread %s: %w", key, err)
	}

	l.mu.Lock()
	if l.generation != generation {
		l.mu.Unlock()
		return nil
	}
	l.messages = thread
	l.mu.Unlock()

	if err := l.backend.MarkRead(ctx, key); err != nil {
		l.notify()
		return fmt.Errorf("mark read %s: %w", key, err)
	}
	l.applyLocalRead(key)
	l.notify()
	return nil
}

// Deselect clears the active conversation.
func (l *Loop) Deselect() {
	l.mu.Lock()
	l.generation++
	l.selected = nil
	l.messages = nil
	l.mu.Unlock()
	l.notify()
}

func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Loop) snapshotLocked() Snapshot {
	conversations := make([]models.Conversation, len(l.conversations))
	copy(conversations, l.conversations)
	messages := make([]models.Message, len(l.messages))
	copy(messages, l.messages)

	return Snapshot{
		State:         l.state,
		Conversations: conversations,
		Messages:      messages,
		Selected:      copyKey(l.selected),
		LastUpdate:    l.lastUpdate,
		IsUpdating:    l.state != Idle,
		LastError:     l.lastErr,
	}
}

// applyLocalRead mirrors a successful MarkRead in the view so the unread
// badge clears before the next poll.
func (l *Loop) applyLocalRead(key models.ConversationKey) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.selected != nil && *l.selected == key {
		for i := range l.messages {
			if l.messages[i].SenderType != l.viewer {
				l.messages[i].IsRead = true
			}
		}
	}
	for i := range l.conversations {
		if l.conversations[i].Key() == key {
			l.conversations[i].UnreadCount = 0
		}
	}
}

func (l *Loop) notify() {
	if l.onUpdate == nil {
		return
	}
	l.onUpdate(l.Snapshot())
}

func hasUnreadIncoming(messages []models.Message, viewer models.SenderType) bool {
	for _, message := range messages {
		if message.SenderType != viewer && !message.IsRead {
			return true
		}
	}
	return false
}

func copyKey(key *models.ConversationKey) *models.ConversationKey {
	if key == nil {
		return nil
	}
	copied := *key
	return &copied
}
