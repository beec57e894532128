package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
)

const minPasswordLen = 6

// Identity is the authenticated-session handle. It is separate from the
// profile document stored for the same UID.
type Identity struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Account is a stored credential.
type Account struct {
	UID          string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Directory stores credentials.
type Directory interface {
	// Lookup returns ErrIdentityNotFound for an unknown email.
	Lookup(ctx context.Context, email string) (Account, error)
	// Create returns ErrEmailTaken when the email is in use.
	Create(ctx context.Context, acct Account) error
	// Delete returns ErrIdentityNotFound for an unknown uid.
	Delete(ctx context.Context, uid string) error
}

// Client signs identities in against a Directory and caches the signed-in
// identity locally, so CurrentIdentity never leaves the process.
type Client struct {
	dir    Directory
	tokens *TokenIssuer
	logger *slog.Logger

	mu      sync.RWMutex
	current *Identity
}

func NewClient(dir Directory, tokens *TokenIssuer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{dir: dir, tokens: tokens, logger: logger}
}

func (c *Client) SignIn(ctx context.Context, email, password string) (Identity, error) {
	email = normalizeEmail(email)
	acct, err := c.dir.Lookup(ctx, email)
	if errors.Is(err, ErrIdentityNotFound) {
		return Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, fmt.Errorf("lookup account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return c.startSession(acct)
}

// SignUp creates a credential and signs it in.
func (c *Client) SignUp(ctx context.Context, email, password string) (Identity, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return Identity{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return Identity{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}
	acct := Account{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := c.dir.Create(ctx, acct); err != nil {
		return Identity{}, err
	}
	c.logger.Info("identity created", "uid", acct.UID)
	return c.startSession(acct)
}

func (c *Client) startSession(acct Account) (Identity, error) {
	token, exp, err := c.tokens.Issue(acct.UID, acct.Email)
	if err != nil {
		return Identity{}, fmt.Errorf("issue token: %w", err)
	}
	id := Identity{UID: acct.UID, Email: acct.Email, Token: token, ExpiresAt: exp}
	c.mu.Lock()
	c.current = &id
	c.mu.Unlock()
	return id, nil
}

// CurrentIdentity reports the signed-in identity. A session whose token no
// longer verifies is dropped.
func (c *Client) CurrentIdentity() (Identity, bool) {
	c.mu.RLock()
	cur := c.current
	c.mu.RUnlock()
	if cur == nil {
		return Identity{}, false
	}
	if _, err := c.tokens.Verify(cur.Token); err != nil {
		c.logger.Debug("session token rejected", "uid", cur.UID, "error", err)
		c.mu.Lock()
		if c.current == cur {
			c.current = nil
		}
		c.mu.Unlock()
		return Identity{}, false
	}
	return *cur, true
}

func (c *Client) SignOut() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// DeleteIdentity removes the credential and ends its session if it is the
// signed-in one.
func (c *Client) DeleteIdentity(ctx context.Context, id Identity) error {
	if err := c.dir.Delete(ctx, id.UID); err != nil {
		return err
	}
	c.mu.Lock()
	if c.current != nil && c.current.UID == id.UID {
		c.current = nil
	}
	c.mu.Unlock()
	return nil
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }
