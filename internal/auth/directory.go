package auth

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/lib/pq"
)

type MemoryDirectory struct {
	mu      sync.RWMutex
	byEmail map[string]Account
	fail    error
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{byEmail: make(map[string]Account)}
}

// FailDeletes makes Delete return err until called again with nil.
func (m *MemoryDirectory) FailDeletes(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *MemoryDirectory) Lookup(_ context.Context, email string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.byEmail[email]
	if !ok {
		return Account{}, ErrIdentityNotFound
	}
	return acct, nil
}

func (m *MemoryDirectory) Create(_ context.Context, acct Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[acct.Email]; ok {
		return ErrEmailTaken
	}
	m.byEmail[acct.Email] = acct
	return nil
}

func (m *MemoryDirectory) Delete(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	for email, acct := range m.byEmail {
		if acct.UID == uid {
			delete(m.byEmail, email)
			return nil
		}
	}
	return ErrIdentityNotFound
}

// Has reports whether an account with uid exists.
func (m *MemoryDirectory) Has(uid string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, acct := range m.byEmail {
		if acct.UID == uid {
			return true
		}
	}
	return false
}

// PostgresDirectory stores credentials in the identities table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory { return &PostgresDirectory{db: db} }

func (p *PostgresDirectory) Lookup(ctx context.Context, email string) (Account, error) {
	var acct Account
	err := p.db.QueryRowContext(ctx, `SELECT uid, email, password_hash, created_at FROM identities WHERE email=$1`, email).
		Scan(&acct.UID, &acct.Email, &acct.PasswordHash, &acct.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrIdentityNotFound
	}
	return acct, err
}

func (p *PostgresDirectory) Create(ctx context.Context, acct Account) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO identities(uid, email, password_hash, created_at) VALUES($1,$2,$3,$4)`,
		acct.UID, acct.Email, acct.PasswordHash, acct.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}

func (p *PostgresDirectory) Delete(ctx context.Context, uid string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM identities WHERE uid=$1`, uid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrIdentityNotFound
	}
	return nil
}
