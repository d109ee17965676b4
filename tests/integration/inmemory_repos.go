package integration

import (
	"context"
	"sort"
	"sync"
	"time"

	"walletledger/internal/core/domain"
	"walletledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// --- In-Memory Wallet Repo ---

type inMemoryWalletRepo struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*domain.Wallet
}

func newInMemoryWalletRepo() *inMemoryWalletRepo {
	return &inMemoryWalletRepo{wallets: make(map[uuid.UUID]*domain.Wallet)}
}

func (r *inMemoryWalletRepo) Create(ctx context.Context, wallet *domain.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.UserID == wallet.UserID && w.Currency == wallet.Currency && w.Active() {
			return ports.ErrWalletExists
		}
	}
	cp := *wallet
	r.wallets[wallet.ID] = &cp
	return nil
}

func (r *inMemoryWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[id]
	if !ok || !w.Active() {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (r *inMemoryWalletRepo) GetByUser(ctx context.Context, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.UserID == userID && w.Currency == currency && w.Active() {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

// ApplyBalanceDelta holds the repo lock for the whole read-modify-write, so
// concurrent deltas on one wallet serialize exactly like the guarded SQL
// UPDATE does in production.
func (r *inMemoryWalletRepo) ApplyBalanceDelta(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok || !w.Active() {
		return decimal.Zero, ports.ErrWalletNotFound
	}
	newBalance := w.Balance.Add(delta)
	if newBalance.IsNegative() {
		return decimal.Zero, ports.ErrInsufficientFunds
	}
	w.Balance = newBalance
	w.Version++
	w.UpdatedAt = time.Now().UTC()
	return newBalance, nil
}

func (r *inMemoryWalletRepo) SoftDelete(ctx context.Context, walletID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok || !w.Active() {
		return ports.ErrWalletNotFound
	}
	w.DeletedAt = &at
	return nil
}

// --- In-Memory Transaction Repo ---

type inMemoryTransactionRepo struct {
	mu   sync.Mutex
	txns map[uuid.UUID]*domain.Transaction
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{txns: make(map[uuid.UUID]*domain.Transaction)}
}

func (r *inMemoryTransactionRepo) Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *transaction
	r.txns[transaction.ID] = &cp
	return nil
}

func (r *inMemoryTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txns[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryTransactionRepo) CountRecentByKind(ctx context.Context, senderID uuid.UUID, kind domain.TransactionKind, since, until time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, t := range r.txns {
		if t.SenderID == senderID && t.Kind == kind && !t.CreatedAt.Before(since) && t.CreatedAt.Before(until) {
			count++
		}
	}
	return count, nil
}

func (r *inMemoryTransactionRepo) ListCompletedSince(ctx context.Context, since time.Time) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, t := range r.txns {
		if t.Status == domain.TransactionStatusCompleted && !t.Flagged && !t.CreatedAt.Before(since) {
			out = append(out, *t)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *inMemoryTransactionRepo) MarkFlagged(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txns[id]
	if !ok || t.Status != domain.TransactionStatusCompleted {
		return false, nil
	}
	t.Flag(reason, at)
	return true, nil
}

func (r *inMemoryTransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []domain.Transaction
	for _, t := range r.txns {
		if t.SenderID == userID || t.RecipientID == userID {
			all = append(all, *t)
		}
	}
	sortNewestFirst(all)
	return paginate(all, limit, offset), int64(len(all)), nil
}

func (r *inMemoryTransactionRepo) ListFlagged(ctx context.Context, limit, offset int) ([]domain.Transaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []domain.Transaction
	for _, t := range r.txns {
		if t.Flagged {
			all = append(all, *t)
		}
	}
	sortNewestFirst(all)
	return paginate(all, limit, offset), int64(len(all)), nil
}

func sortNewestFirst(txns []domain.Transaction) {
	sort.Slice(txns, func(i, j int) bool {
		return txns[i].CreatedAt.After(txns[j].CreatedAt)
	})
}

func paginate(txns []domain.Transaction, limit, offset int) []domain.Transaction {
	if offset >= len(txns) {
		return nil
	}
	end := offset + limit
	if end > len(txns) {
		end = len(txns)
	}
	return txns[offset:end]
}

// --- In-Memory User Directory ---

type inMemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User
}

func newInMemoryUserDirectory() *inMemoryUserDirectory {
	return &inMemoryUserDirectory{users: make(map[uuid.UUID]*domain.User)}
}

func (r *inMemoryUserDirectory) add(u *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *inMemoryUserDirectory) Lookup(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// --- In-Memory Idempotency Repo ---

type inMemoryIdempotencyRepo struct {
	mu   sync.RWMutex
	logs map[string]*domain.IdempotencyLog
}

func newInMemoryIdempotencyRepo() *inMemoryIdempotencyRepo {
	return &inMemoryIdempotencyRepo{logs: make(map[string]*domain.IdempotencyLog)}
}

func (r *inMemoryIdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *log
	r.logs[log.Key] = &cp
	return nil
}

func (r *inMemoryIdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.logs[key]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

// --- In-Memory Fraud Audit Repo ---

type inMemoryFraudAuditRepo struct {
	mu      sync.Mutex
	entries []domain.FraudAuditEntry
}

func newInMemoryFraudAuditRepo() *inMemoryFraudAuditRepo {
	return &inMemoryFraudAuditRepo{}
}

func (r *inMemoryFraudAuditRepo) Record(ctx context.Context, entry *domain.FraudAuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *inMemoryFraudAuditRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// --- In-Memory Transactor (no-op tx) ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }
