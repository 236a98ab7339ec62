package store

import (
	"context"
	"strings"
	"sync"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// MemoryStore is an in-memory implementation of the account, token, wallet
// challenge and two-factor stores. A single lock serializes every mutation.
type MemoryStore struct {
	mu sync.RWMutex

	accounts map[string]*core.Account
	byEmail  map[string]string
	byWallet map[string]string

	refresh         map[string]*core.RefreshRecord
	revokedFamilies map[string]struct{}

	challenges    map[string]*core.WalletChallenge
	registrations map[string]*core.RegistrationTicket

	twoFactor        map[string]*core.TwoFactorChallenge
	currentTwoFactor map[string]string
}

var (
	_ ports.AccountStore         = (*MemoryStore)(nil)
	_ ports.TokenStore           = (*MemoryStore)(nil)
	_ ports.WalletChallengeStore = (*MemoryStore)(nil)
	_ ports.TwoFactorStore       = (*MemoryStore)(nil)
)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:         make(map[string]*core.Account),
		byEmail:          make(map[string]string),
		byWallet:         make(map[string]string),
		refresh:          make(map[string]*core.RefreshRecord),
		revokedFamilies:  make(map[string]struct{}),
		challenges:       make(map[string]*core.WalletChallenge),
		registrations:    make(map[string]*core.RegistrationTicket),
		twoFactor:        make(map[string]*core.TwoFactorChallenge),
		currentTwoFactor: make(map[string]string),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateAccount stores a new account
func (s *MemoryStore) CreateAccount(ctx context.Context, account *core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return core.ErrAccountExists
	}
	if account.Email != "" {
		if _, exists := s.byEmail[emailKey(account.Email)]; exists {
			return core.ErrAccountExists
		}
	}
	if account.WalletAddress != "" {
		if _, exists := s.byWallet[account.WalletAddress]; exists {
			return core.ErrAccountExists
		}
	}

	s.putAccountLocked(account)
	return nil
}

// UpdateAccount replaces an existing account, keeping email and wallet unique
func (s *MemoryStore) UpdateAccount(ctx context.Context, account *core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.accounts[account.ID]
	if !exists {
		return core.ErrAccountNotFound
	}
	if id, taken := s.byEmail[emailKey(account.Email)]; account.Email != "" && taken && id != account.ID {
		return core.ErrAccountExists
	}
	if id, taken := s.byWallet[account.WalletAddress]; account.WalletAddress != "" && taken && id != account.ID {
		return core.ErrAccountExists
	}

	delete(s.byEmail, emailKey(old.Email))
	delete(s.byWallet, old.WalletAddress)
	s.putAccountLocked(account)
	return nil
}

func (s *MemoryStore) putAccountLocked(account *core.Account) {
	stored := *account
	s.accounts[stored.ID] = &stored
	if stored.Email != "" {
		s.byEmail[emailKey(stored.Email)] = stored.ID
	}
	if stored.WalletAddress != "" {
		s.byWallet[stored.WalletAddress] = stored.ID
	}
}

// GetAccount looks an account up by id
func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountLocked(id)
}

// GetAccountByEmail looks an account up by its normalized email
func (s *MemoryStore) GetAccountByEmail(ctx context.Context, email string) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountLocked(s.byEmail[emailKey(email)])
}

// GetAccountByWallet looks an account up by its checksummed wallet address
func (s *MemoryStore) GetAccountByWallet(ctx context.Context, address string) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountLocked(s.byWallet[address])
}

func (s *MemoryStore) accountLocked(id string) (*core.Account, error) {
	account, exists := s.accounts[id]
	if !exists {
		return nil, core.ErrAccountNotFound
	}
	out := *account
	return &out, nil
}

// PutRefresh stores a refresh record
func (s *MemoryStore) PutRefresh(ctx context.Context, record *core.RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *record
	s.refresh[stored.ID] = &stored
	return nil
}

// GetRefresh returns a copy of a refresh record
func (s *MemoryStore) GetRefresh(ctx context.Context, id string) (*core.RefreshRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.refresh[id]
	if !exists {
		return nil, core.ErrTokenInvalid
	}
	out := *record
	return &out, nil
}

// RevokeRefresh flips the revoked flag if it was not set yet
func (s *MemoryStore) RevokeRefresh(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.refresh[id]
	if !exists {
		return false, core.ErrTokenInvalid
	}
	if record.Revoked {
		return false, nil
	}
	record.Revoked = true
	return true, nil
}

// RevokeFamily revokes every record of the family and remembers the family
func (s *MemoryStore) RevokeFamily(ctx context.Context, familyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revokeFamilyLocked(familyID)
	return nil
}

func (s *MemoryStore) revokeFamilyLocked(familyID string) {
	s.revokedFamilies[familyID] = struct{}{}
	for _, record := range s.refresh {
		if record.FamilyID == familyID {
			record.Revoked = true
		}
	}
}

// RevokeAccount revokes every family the account ever held
func (s *MemoryStore) RevokeAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	families := make(map[string]struct{})
	for _, record := range s.refresh {
		if record.AccountID == accountID {
			families[record.FamilyID] = struct{}{}
		}
	}
	for familyID := range families {
		s.revokeFamilyLocked(familyID)
	}
	return nil
}

// FamilyRevoked reports whether RevokeFamily was called for the family
func (s *MemoryStore) FamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, revoked := s.revokedFamilies[familyID]
	return revoked, nil
}

// PutChallenge replaces the address's challenge
func (s *MemoryStore) PutChallenge(ctx context.Context, challenge *core.WalletChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *challenge
	s.challenges[stored.Address] = &stored
	return nil
}

// GetChallenge returns the address's outstanding challenge
func (s *MemoryStore) GetChallenge(ctx context.Context, address string) (*core.WalletChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	challenge, exists := s.challenges[address]
	if !exists || challenge.Consumed {
		return nil, core.ErrNoChallenge
	}
	out := *challenge
	return &out, nil
}

// ConsumeChallenge deletes the challenge if the nonce still matches
func (s *MemoryStore) ConsumeChallenge(ctx context.Context, address, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, exists := s.challenges[address]
	if !exists || challenge.Consumed || challenge.Nonce != nonce {
		return core.ErrNoChallenge
	}
	delete(s.challenges, address)
	return nil
}

// PutRegistration stores a registration ticket for an unlinked address
func (s *MemoryStore) PutRegistration(ctx context.Context, ticket *core.RegistrationTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *ticket
	s.registrations[stored.Address] = &stored
	return nil
}

// TakeRegistration removes and returns the address's ticket
func (s *MemoryStore) TakeRegistration(ctx context.Context, address string) (*core.RegistrationTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, exists := s.registrations[address]
	if !exists {
		return nil, core.ErrNoChallenge
	}
	delete(s.registrations, address)
	return ticket, nil
}

// CreateTwoFactor stores the challenge and supersedes the account's previous one
func (s *MemoryStore) CreateTwoFactor(ctx context.Context, challenge *core.TwoFactorChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prevID, ok := s.currentTwoFactor[challenge.AccountID]; ok {
		if prev, exists := s.twoFactor[prevID]; exists && prev.State == core.TwoFactorPending {
			prev.State = core.TwoFactorSuperseded
		}
	}

	stored := *challenge
	s.twoFactor[stored.ID] = &stored
	s.currentTwoFactor[stored.AccountID] = stored.ID
	return nil
}

// GetTwoFactor returns a copy of the challenge
func (s *MemoryStore) GetTwoFactor(ctx context.Context, id string) (*core.TwoFactorChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	challenge, exists := s.twoFactor[id]
	if !exists {
		return nil, core.ErrNoChallenge
	}
	out := *challenge
	return &out, nil
}

// CurrentTwoFactor returns the account's latest challenge
func (s *MemoryStore) CurrentTwoFactor(ctx context.Context, accountID string) (*core.TwoFactorChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	challenge, exists := s.twoFactor[s.currentTwoFactor[accountID]]
	if !exists {
		return nil, core.ErrNoChallenge
	}
	out := *challenge
	return &out, nil
}

// UpdateTwoFactor runs fn on the challenge under the store lock
func (s *MemoryStore) UpdateTwoFactor(ctx context.Context, id string, fn func(*core.TwoFactorChallenge) error) (*core.TwoFactorChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, exists := s.twoFactor[id]
	if !exists {
		return nil, core.ErrNoChallenge
	}

	working := *challenge
	fnErr := fn(&working)
	*challenge = working

	out := working
	return &out, fnErr
}
