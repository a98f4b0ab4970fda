// Package memstore is an in-process implementation of repository.Store.
//
// Transactions are optimistic: reads see the committed state, writes are
// buffered, and commit validates that every game written still has the
// version that was read. A stale game fails the commit with
// repository.ErrConflict, the same way the Postgres store does.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"treasure-hunt/internal/model"
	"treasure-hunt/internal/repository"
)

type dailyKey struct {
	date     string
	id       string
	category model.Category
}

// Store holds all state behind one mutex.
type Store struct {
	mu           sync.Mutex
	games        map[string]*model.Game
	balances     map[string]*model.UserBalance
	byDevice     map[dailyKey]*model.DailyWin
	byUser       map[dailyKey]*model.DailyWin
	attempts     map[string][]model.Attempt
	now          func() time.Time
	beforeCommit func()
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the time source used for CreatedAt/UpdatedAt stamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithBeforeCommit installs a hook that runs after fn returns and before the
// commit is validated. Tests use it to widen race windows.
func WithBeforeCommit(hook func()) Option {
	return func(s *Store) { s.beforeCommit = hook }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		games:    make(map[string]*model.Game),
		balances: make(map[string]*model.UserBalance),
		byDevice: make(map[dailyKey]*model.DailyWin),
		byUser:   make(map[dailyKey]*model.DailyWin),
		attempts: make(map[string][]model.Attempt),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetGame implements repository.Reader.
func (s *Store) GetGame(ctx context.Context, id string) (*model.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return nil, repository.ErrGameNotFound
	}
	return g.Clone(), nil
}

// GetBalance implements repository.Reader.
func (s *Store) GetBalance(ctx context.Context, userID string) (*model.UserBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.balances[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// GetDailyWin implements repository.Reader.
func (s *Store) GetDailyWin(ctx context.Context, date, deviceID string, category model.Category) (*model.DailyWin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.byDevice[dailyKey{date, deviceID, category}]
	if !ok {
		return nil, repository.ErrDailyWinNotFound
	}
	cp := *w
	return &cp, nil
}

// CreateGame implements repository.Store.
func (s *Store) CreateGame(ctx context.Context, g *model.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[g.ID]; ok {
		return repository.ErrGameExists
	}
	now := s.now()
	g.Version = 1
	g.CreatedAt = now
	g.UpdatedAt = now
	s.games[g.ID] = g.Clone()
	return nil
}

// ListGames implements repository.Store.
func (s *Store) ListGames(ctx context.Context, status model.GameStatus) ([]*model.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Game
	for _, g := range s.games {
		if status == "" || g.Status == status {
			out = append(out, g.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// InsertAttempt implements repository.Store.
func (s *Store) InsertAttempt(ctx context.Context, gameID string, a model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[gameID]; !ok {
		return repository.ErrGameNotFound
	}
	s.attempts[gameID] = append(s.attempts[gameID], a)
	return nil
}

// ListAttempts implements repository.Store.
func (s *Store) ListAttempts(ctx context.Context, gameID string, limit int) ([]model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.attempts[gameID]
	out := make([]model.Attempt, 0, len(all))
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// SetPushRecipient implements repository.Store.
func (s *Store) SetPushRecipient(ctx context.Context, userID, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.balanceLocked(userID)
	u.PushRecipient = recipient
	u.UpdatedAt = s.now()
	return nil
}

// Ping implements repository.Store.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Attempts returns every recorded attempt for a game in insertion order.
func (s *Store) Attempts(gameID string) []model.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Attempt(nil), s.attempts[gameID]...)
}

func (s *Store) balanceLocked(userID string) *model.UserBalance {
	u, ok := s.balances[userID]
	if !ok {
		now := s.now()
		u = &model.UserBalance{UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.balances[userID] = u
	}
	return u
}

// WithTx implements repository.Store.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx := &memTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.beforeCommit != nil {
		s.beforeCommit()
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range tx.games {
		cur, ok := s.games[g.ID]
		if !ok || cur.Version != g.Version {
			return repository.ErrConflict
		}
	}
	for _, w := range tx.dailyWins {
		if err := s.checkDailyWinLocked(w); err != nil {
			return err
		}
	}

	now := s.now()
	for _, g := range tx.games {
		g.Version++
		g.UpdatedAt = now
		s.games[g.ID] = g.Clone()
	}
	for _, w := range tx.dailyWins {
		w.CreatedAt = now
		cp := *w
		s.byDevice[dailyKey{w.Date, w.DeviceID, w.Category}] = &cp
		s.byUser[dailyKey{w.Date, w.UserID, w.Category}] = &cp
	}
	for _, c := range tx.credits {
		applyCredit(s.balanceLocked(c.UserID), c, now)
	}
	for _, a := range tx.attempts {
		s.attempts[a.gameID] = append(s.attempts[a.gameID], a.attempt)
	}
	return nil
}

func (s *Store) checkDailyWinLocked(w *model.DailyWin) error {
	if _, ok := s.byDevice[dailyKey{w.Date, w.DeviceID, w.Category}]; ok {
		return repository.ErrDailyWinDeviceTaken
	}
	if _, ok := s.byUser[dailyKey{w.Date, w.UserID, w.Category}]; ok {
		return repository.ErrDailyWinUserTaken
	}
	return nil
}

func applyCredit(u *model.UserBalance, c repository.Credit, now time.Time) {
	u.Balance = u.Balance.Add(c.Amount)
	u.TotalEarnings = u.TotalEarnings.Add(c.Amount)
	u.TotalWins++
	switch c.Category {
	case model.CategoryPhysical:
		u.LastPhysicalWinDate = c.Date
	case model.CategoryBattleRoyale:
		u.LastBattleRoyaleWinDate = c.Date
	}
	u.UpdatedAt = now
}

type pendingAttempt struct {
	gameID  string
	attempt model.Attempt
}

// memTx buffers writes until commit.
type memTx struct {
	store     *Store
	games     []*model.Game
	dailyWins []*model.DailyWin
	credits   []repository.Credit
	attempts  []pendingAttempt
}

func (t *memTx) GetGame(ctx context.Context, id string) (*model.Game, error) {
	for _, g := range t.games {
		if g.ID == id {
			cp := g.Clone()
			cp.Version++
			return cp, nil
		}
	}
	return t.store.GetGame(ctx, id)
}

func (t *memTx) GetBalance(ctx context.Context, userID string) (*model.UserBalance, error) {
	return t.store.GetBalance(ctx, userID)
}

func (t *memTx) GetDailyWin(ctx context.Context, date, deviceID string, category model.Category) (*model.DailyWin, error) {
	return t.store.GetDailyWin(ctx, date, deviceID, category)
}

func (t *memTx) UpdateGame(ctx context.Context, g *model.Game) error {
	for i, pending := range t.games {
		if pending.ID == g.ID {
			cp := g.Clone()
			cp.Version = pending.Version
			t.games[i] = cp
			return nil
		}
	}

	t.store.mu.Lock()
	cur, ok := t.store.games[g.ID]
	stale := !ok || cur.Version != g.Version
	t.store.mu.Unlock()
	if stale {
		return repository.ErrConflict
	}

	// Buffered with the version that was read; commit validates against it.
	t.games = append(t.games, g.Clone())
	g.Version++
	return nil
}

func (t *memTx) InsertAttempt(ctx context.Context, gameID string, a model.Attempt) error {
	t.attempts = append(t.attempts, pendingAttempt{gameID: gameID, attempt: a})
	return nil
}

func (t *memTx) InsertDailyWin(ctx context.Context, w *model.DailyWin) error {
	t.store.mu.Lock()
	err := t.store.checkDailyWinLocked(w)
	t.store.mu.Unlock()
	if err != nil {
		return err
	}
	cp := *w
	t.dailyWins = append(t.dailyWins, &cp)
	return nil
}

func (t *memTx) Credit(ctx context.Context, c repository.Credit) (*model.UserBalance, error) {
	t.store.mu.Lock()
	var u model.UserBalance
	if cur, ok := t.store.balances[c.UserID]; ok {
		u = *cur
	} else {
		u = model.UserBalance{UserID: c.UserID}
	}
	t.store.mu.Unlock()

	for _, prev := range t.credits {
		if prev.UserID == c.UserID {
			applyCredit(&u, prev, t.store.now())
		}
	}
	applyCredit(&u, c, t.store.now())
	t.credits = append(t.credits, c)
	return &u, nil
}
