package repository

import (
	"context"
	"sync"
	"time"

	"github.com/LearnWiseAI/moodle-local-learnwise/internal/domain"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a map-backed Store for tests and single-node development.
// Each method is atomic under mu; WithTx serializes whole exchanges under
// txMu so concurrent redemptions of the same code observe each other.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID        int64
	clients       map[string]domain.Client
	grants        map[int64]domain.Grant
	codes         map[string]domain.AuthorizationCode
	accessTokens  map[string]domain.AccessToken
	refreshTokens map[string]domain.RefreshToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:        1,
		clients:       make(map[string]domain.Client),
		grants:        make(map[int64]domain.Grant),
		codes:         make(map[string]domain.AuthorizationCode),
		accessTokens:  make(map[string]domain.AccessToken),
		refreshTokens: make(map[string]domain.RefreshToken),
	}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

func (s *MemoryStore) GetClient(ctx context.Context, uniqID string) (domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[uniqID]
	if !ok {
		return domain.Client{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) GetClientByID(ctx context.Context, id int64) (domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.Client{}, domain.ErrNotFound
}

func (s *MemoryStore) FirstClient(ctx context.Context) (domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first domain.Client
	found := false
	for _, c := range s.clients {
		if !found || c.ID < first.ID {
			first = c
			found = true
		}
	}
	if !found {
		return domain.Client{}, domain.ErrNotFound
	}
	return first, nil
}

func (s *MemoryStore) CreateClient(ctx context.Context, client domain.Client) (domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if client.ID == 0 {
		client.ID = s.nextID
		s.nextID++
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now()
	}
	s.clients[client.UniqID] = client
	return client, nil
}

func (s *MemoryStore) GetOrCreateGrant(ctx context.Context, clientID, userID int64) (domain.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants {
		if g.ClientID == clientID && g.UserID == userID {
			return g, nil
		}
	}
	g := domain.Grant{ID: s.nextID, ClientID: clientID, UserID: userID}
	s.nextID++
	s.grants[g.ID] = g
	return g, nil
}

func (s *MemoryStore) FindGrant(ctx context.Context, clientID, userID int64) (domain.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants {
		if g.ClientID == clientID && g.UserID == userID {
			return g, nil
		}
	}
	return domain.Grant{}, domain.ErrNotFound
}

func (s *MemoryStore) GetGrant(ctx context.Context, id int64) (domain.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return domain.Grant{}, domain.ErrNotFound
	}
	return g, nil
}

func (s *MemoryStore) UpsertAuthorizationCode(ctx context.Context, code domain.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, existing := range s.codes {
		if existing.GrantID == code.GrantID {
			delete(s.codes, k)
		}
	}
	s.codes[code.Code] = code
	return nil
}

func (s *MemoryStore) GetAuthorizationCode(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return domain.AuthorizationCode{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) DeleteAuthorizationCode(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code]; !ok {
		return false, nil
	}
	delete(s.codes, code)
	return true, nil
}

func (s *MemoryStore) UpsertAccessToken(ctx context.Context, token domain.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, existing := range s.accessTokens {
		if existing.GrantID == token.GrantID {
			delete(s.accessTokens, k)
		}
	}
	s.accessTokens[token.Token] = token
	return nil
}

func (s *MemoryStore) InsertAccessToken(ctx context.Context, token domain.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[token.Token] = token
	return nil
}

func (s *MemoryStore) GetAccessToken(ctx context.Context, token string) (domain.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.accessTokens[token]
	if !ok {
		return domain.AccessToken{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) DeleteAccessToken(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accessTokens[token]; !ok {
		return false, nil
	}
	delete(s.accessTokens, token)
	return true, nil
}

func (s *MemoryStore) DeleteAccessTokensForGrant(ctx context.Context, grantID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for k, t := range s.accessTokens {
		if t.GrantID == grantID {
			delete(s.accessTokens, k)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) InsertRefreshToken(ctx context.Context, token domain.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[token.Token] = token
	return nil
}

func (s *MemoryStore) GetRefreshToken(ctx context.Context, token string) (domain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refreshTokens[token]
	if !ok {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) DeleteRefreshToken(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshTokens[token]; !ok {
		return false, nil
	}
	delete(s.refreshTokens, token)
	return true, nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for k, c := range s.codes {
		if !before.Before(c.ExpiresAt) {
			delete(s.codes, k)
			total++
		}
	}
	for k, t := range s.accessTokens {
		if !before.Before(t.ExpiresAt) {
			delete(s.accessTokens, k)
			total++
		}
	}
	for k, t := range s.refreshTokens {
		if !before.Before(t.ExpiresAt) {
			delete(s.refreshTokens, k)
			total++
		}
	}
	return total, nil
}
