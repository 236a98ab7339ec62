package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

const minPasswordLength = 8

// Components are the collaborators an AuthService composes.
type Components struct {
	Limiter     *RateLimiter
	Credentials *CredentialVerifier
	Wallets     *WalletChallengeService
	TwoFactor   *TwoFactorController
	Tokens      *TokenService
	Tokenizer   ports.Tokenizer
	Accounts    ports.AccountStore
	Notifier    ports.Notifier
	Recorder    Recorder
	Logger      logrus.FieldLogger
}

// AuthService composes the login, two-factor and token flows. Every
// operation is admitted by the rate limiter before anything else runs.
type AuthService struct {
	clock
	Components

	pendingTTL     time.Duration
	resendCooldown time.Duration
}

// NewAuthService creates a new authentication service
func NewAuthService(components Components, pendingTTL, resendCooldown time.Duration, opts ...Option) *AuthService {
	if components.Recorder == nil {
		components.Recorder = NopRecorder{}
	}
	s := &AuthService{
		clock:          newClock(),
		Components:     components,
		pendingTTL:     pendingTTL,
		resendCooldown: resendCooldown,
	}
	applyOptions(s, opts)
	return s
}

// WalletRegistration is the profile submitted with a verified wallet signature.
type WalletRegistration struct {
	Address   string
	Signature string
	Email     string
	FirstName string
	LastName  string
}

// CredentialRegistration creates an email and password account.
type CredentialRegistration struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type admittedKey struct{}

// Admit runs the rate limiter for route before anything else about the
// request is looked at. The returned context marks the request as admitted
// so the operation behind route does not count it a second time.
func (s *AuthService) Admit(ctx context.Context, route, caller string) (context.Context, error) {
	if err := s.admit(ctx, route, caller); err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, admittedKey{}, route), nil
}

func (s *AuthService) admit(ctx context.Context, route, caller string) error {
	if admitted, _ := ctx.Value(admittedKey{}).(string); admitted == route {
		return nil
	}

	decision, err := s.Limiter.Admit(ctx, route, caller)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		s.Recorder.RateLimited(route)
		return &core.RateLimitError{Route: route, Remaining: 0, ResetAt: decision.ResetAt}
	}
	return nil
}

func (s *AuthService) record(method string, result *core.AuthResult, err error) {
	switch {
	case err != nil:
		s.Recorder.AuthAttempt(method, "failed")
	case result != nil:
		s.Recorder.AuthAttempt(method, string(result.Status))
	}
}

// LoginWithCredentials authenticates with email and password.
func (s *AuthService) LoginWithCredentials(ctx context.Context, caller, email, password string) (result *core.AuthResult, err error) {
	if err := s.admit(ctx, RouteLoginCredential, caller); err != nil {
		return nil, err
	}
	defer func() { s.record(core.MethodCredential, result, err) }()

	account, err := s.Credentials.Verify(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, account, core.MethodCredential)
}

// CreateWalletChallenge issues a sign-in challenge for address.
func (s *AuthService) CreateWalletChallenge(ctx context.Context, caller, address string) (*core.WalletChallenge, error) {
	if err := s.admit(ctx, RouteWalletChallenge, caller); err != nil {
		return nil, err
	}
	return s.Wallets.IssueChallenge(ctx, address)
}

// LoginWithWallet verifies a signed challenge. Unlinked addresses get a
// NeedsRegistration result.
func (s *AuthService) LoginWithWallet(ctx context.Context, caller, address, signature string) (result *core.AuthResult, err error) {
	if err := s.admit(ctx, RouteLoginWallet, caller); err != nil {
		return nil, err
	}
	defer func() { s.record(core.MethodWallet, result, err) }()

	account, err := s.Wallets.VerifySignature(ctx, address, signature)
	if errors.Is(err, core.ErrAccountNotFound) {
		return &core.AuthResult{Status: core.StatusNeedsRegistration}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, account, core.MethodWallet)
}

// RegisterWallet creates an account for a freshly verified wallet and logs it in.
func (s *AuthService) RegisterWallet(ctx context.Context, caller string, reg WalletRegistration) (result *core.AuthResult, err error) {
	if err := s.admit(ctx, RouteRegisterWallet, caller); err != nil {
		return nil, err
	}
	defer func() { s.record(core.MethodWallet, result, err) }()

	email, err := validEmail(reg.Email)
	if err != nil {
		return nil, err
	}
	// The ticket is single use, so a taken email must fail before it is redeemed.
	if err := s.emailAvailable(ctx, email); err != nil {
		return nil, err
	}

	address, err := s.Wallets.RedeemRegistration(ctx, reg.Address, reg.Signature)
	if err != nil {
		return nil, err
	}

	account, err := s.createAccount(ctx, &core.Account{
		Email:         email,
		WalletAddress: address,
		FirstName:     reg.FirstName,
		LastName:      reg.LastName,
	}, core.MethodWallet)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, account, core.MethodWallet)
}

// RegisterCredentials creates an email and password account and logs it in.
func (s *AuthService) RegisterCredentials(ctx context.Context, caller string, reg CredentialRegistration) (result *core.AuthResult, err error) {
	if err := s.admit(ctx, RouteRegisterCredential, caller); err != nil {
		return nil, err
	}
	defer func() { s.record(core.MethodCredential, result, err) }()

	email, err := validEmail(reg.Email)
	if err != nil {
		return nil, err
	}
	if len(reg.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", core.ErrInvalidRequest, minPasswordLength)
	}

	hash, err := s.Credentials.Hash(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account, err := s.createAccount(ctx, &core.Account{
		Email:          email,
		CredentialHash: hash,
		FirstName:      reg.FirstName,
		LastName:       reg.LastName,
	}, core.MethodCredential)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, account, core.MethodCredential)
}

func validEmail(email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", core.ErrInvalidRequest)
	}
	if parsed, err := mail.ParseAddress(email); err != nil || parsed.Address != email {
		return "", fmt.Errorf("%w: malformed email", core.ErrInvalidRequest)
	}
	return email, nil
}

func (s *AuthService) emailAvailable(ctx context.Context, email string) error {
	_, err := s.Accounts.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		return core.ErrAccountExists
	case errors.Is(err, core.ErrAccountNotFound):
		return nil
	default:
		return err
	}
}

func (s *AuthService) createAccount(ctx context.Context, account *core.Account, method string) (*core.Account, error) {
	now := s.now().UTC()
	account.ID = uuid.NewString()
	account.Role = core.RoleMember
	account.CreatedAt = now
	account.UpdatedAt = now

	if err := s.Accounts.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.Logger.WithFields(logrus.Fields{"account_id": account.ID, "method": method}).Info("account registered")
	notify(ctx, s.Notifier, s.Logger, core.SecurityEvent{
		Type:       core.EventAccountRegistered,
		AccountID:  account.ID,
		Method:     method,
		OccurredAt: now,
	})
	return account, nil
}

// complete finishes a login whose primary factor succeeded: it parks the
// login behind a two-factor challenge or issues tokens.
func (s *AuthService) complete(ctx context.Context, account *core.Account, method string) (*core.AuthResult, error) {
	if account.Disabled {
		return nil, core.ErrAccountDisabled
	}

	if account.TwoFactor.Enabled {
		return s.startTwoFactor(ctx, account, method)
	}

	tokens, err := s.Tokens.Issue(ctx, account)
	if err != nil {
		return nil, err
	}

	notify(ctx, s.Notifier, s.Logger, core.SecurityEvent{
		Type:       core.EventLogin,
		AccountID:  account.ID,
		Method:     method,
		OccurredAt: s.now().UTC(),
	})
	return &core.AuthResult{Status: core.StatusAuthenticated, Account: account, Tokens: tokens}, nil
}

func (s *AuthService) startTwoFactor(ctx context.Context, account *core.Account, method string) (*core.AuthResult, error) {
	loginID := uuid.NewString()

	challenge, err := s.TwoFactor.StartChallenge(ctx, account, loginID)
	deliveryFailed := errors.Is(err, core.ErrDeliveryFailed)
	if err != nil && !deliveryFailed {
		return nil, err
	}
	s.Recorder.CodeDelivery(!deliveryFailed)

	now := s.now().UTC().Truncate(time.Second)
	token, err := s.Tokenizer.PendingLoginToToken(&core.PendingLogin{
		LoginID:   loginID,
		AccountID: account.ID,
		Method:    method,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.pendingTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create two-factor token: %w", err)
	}

	return &core.AuthResult{
		Status:             core.StatusPendingTwoFactor,
		Account:            account,
		TwoFactorToken:     token,
		TwoFactorExpiresAt: challenge.ExpiresAt,
		ResendAvailableAt:  ResendAvailableAt(challenge.IssuedAt, s.resendCooldown),
		DeliveryFailed:     deliveryFailed,
	}, nil
}

// pendingChallenge resolves a two-factor token to the login's current challenge.
func (s *AuthService) pendingChallenge(ctx context.Context, twoFactorToken string) (*core.PendingLogin, *core.TwoFactorChallenge, error) {
	pending, err := s.Tokenizer.TokenToPendingLogin(twoFactorToken)
	if err != nil {
		return nil, nil, err
	}

	challenge, err := s.TwoFactor.Current(ctx, pending.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if challenge.LoginID != pending.LoginID {
		return nil, nil, core.ErrNoChallenge
	}
	return pending, challenge, nil
}

// VerifyTwoFactor completes a parked login with its code.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, caller, twoFactorToken, code string) (result *core.AuthResult, err error) {
	if err := s.admit(ctx, RouteTwoFactorVerify, caller); err != nil {
		return nil, err
	}
	defer func() { s.record("two_factor", result, err) }()

	pending, challenge, err := s.pendingChallenge(ctx, twoFactorToken)
	if err != nil {
		return nil, err
	}

	if _, err := s.TwoFactor.Verify(ctx, challenge.ID, code); err != nil {
		return nil, err
	}

	account, err := s.Accounts.GetAccount(ctx, pending.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Disabled {
		return nil, core.ErrAccountDisabled
	}

	tokens, err := s.Tokens.Issue(ctx, account)
	if err != nil {
		return nil, err
	}

	notify(ctx, s.Notifier, s.Logger, core.SecurityEvent{
		Type:       core.EventLogin,
		AccountID:  account.ID,
		Method:     pending.Method,
		Attributes: map[string]string{"two_factor": string(challenge.Channel)},
		OccurredAt: s.now().UTC(),
	})
	return &core.AuthResult{Status: core.StatusAuthenticated, Account: account, Tokens: tokens}, nil
}

// ResendTwoFactor replaces the login's challenge with a new code once the
// cooldown has passed. The two-factor token stays valid.
func (s *AuthService) ResendTwoFactor(ctx context.Context, caller, twoFactorToken string) (*core.AuthResult, error) {
	if err := s.admit(ctx, RouteTwoFactorResend, caller); err != nil {
		return nil, err
	}

	pending, current, err := s.pendingChallenge(ctx, twoFactorToken)
	if err != nil {
		return nil, err
	}
	switch current.State {
	case core.TwoFactorVerified:
		return nil, core.ErrNoChallenge
	case core.TwoFactorExhausted:
		return nil, core.ErrTwoFactorExhausted
	}
	if !CanResend(s.now(), current.IssuedAt, s.resendCooldown) {
		return &core.AuthResult{
			Status:            core.StatusPendingTwoFactor,
			ResendAvailableAt: ResendAvailableAt(current.IssuedAt, s.resendCooldown),
		}, core.ErrResendTooSoon
	}

	account, err := s.Accounts.GetAccount(ctx, pending.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Disabled {
		return nil, core.ErrAccountDisabled
	}

	challenge, err := s.TwoFactor.Resend(ctx, account, pending.LoginID)
	s.Recorder.CodeDelivery(err == nil)
	if err != nil {
		return nil, err
	}

	return &core.AuthResult{
		Status:             core.StatusPendingTwoFactor,
		Account:            account,
		TwoFactorToken:     twoFactorToken,
		TwoFactorExpiresAt: challenge.ExpiresAt,
		ResendAvailableAt:  ResendAvailableAt(challenge.IssuedAt, s.resendCooldown),
	}, nil
}

// Refresh rotates a refresh token.
func (s *AuthService) Refresh(ctx context.Context, caller, refreshToken string) (*core.TokenPair, error) {
	if err := s.admit(ctx, RouteRefresh, caller); err != nil {
		return nil, err
	}
	return s.Tokens.Refresh(ctx, refreshToken)
}

// Logout revokes the family of refreshToken. Unknown tokens succeed.
func (s *AuthService) Logout(ctx context.Context, caller, refreshToken string) error {
	if err := s.admit(ctx, RouteLogout, caller); err != nil {
		return err
	}

	record, err := s.Tokens.RevokeRefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	notify(ctx, s.Notifier, s.Logger, core.SecurityEvent{
		Type:       core.EventLogout,
		AccountID:  record.AccountID,
		Attributes: map[string]string{"family_id": record.FamilyID},
		OccurredAt: s.now().UTC(),
	})
	return nil
}

// Authenticate verifies an access token. It performs no I/O.
func (s *AuthService) Authenticate(accessToken string) (*core.Claims, error) {
	return s.Tokens.Verify(accessToken)
}

// Account loads an account by id.
func (s *AuthService) Account(ctx context.Context, accountID string) (*core.Account, error) {
	return s.Accounts.GetAccount(ctx, accountID)
}

// SetTwoFactor enables or disables the second factor of an account.
func (s *AuthService) SetTwoFactor(ctx context.Context, caller, accountID string, cfg core.TwoFactorConfig) (*core.Account, error) {
	if err := s.admit(ctx, RouteSetTwoFactor, caller); err != nil {
		return nil, err
	}

	if cfg.Enabled && (!cfg.Channel.Valid() || cfg.Destination == "") {
		return nil, fmt.Errorf("%w: two-factor needs a channel and destination", core.ErrInvalidRequest)
	}
	if !cfg.Enabled {
		cfg = core.TwoFactorConfig{}
	}

	account, err := s.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	account.TwoFactor = cfg
	account.UpdatedAt = s.now().UTC()
	if err := s.Accounts.UpdateAccount(ctx, account); err != nil {
		return nil, err
	}

	event := core.SecurityEvent{AccountID: account.ID, OccurredAt: account.UpdatedAt, Type: core.EventTwoFactorDisabled}
	if cfg.Enabled {
		event.Type = core.EventTwoFactorEnabled
		event.Attributes = map[string]string{"channel": string(cfg.Channel)}
	}
	notify(ctx, s.Notifier, s.Logger, event)
	return account, nil
}

// LinkWallet attaches a verified wallet to an existing account.
func (s *AuthService) LinkWallet(ctx context.Context, caller, accountID, address, signature string) (*core.Account, error) {
	if err := s.admit(ctx, RouteLinkWallet, caller); err != nil {
		return nil, err
	}

	account, err := s.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.WalletAddress != "" {
		return nil, core.ErrAccountExists
	}

	address, err = s.Wallets.RedeemRegistration(ctx, address, signature)
	if err != nil {
		return nil, err
	}

	account.WalletAddress = address
	account.UpdatedAt = s.now().UTC()
	if err := s.Accounts.UpdateAccount(ctx, account); err != nil {
		return nil, err
	}

	notify(ctx, s.Notifier, s.Logger, core.SecurityEvent{
		Type:       core.EventWalletLinked,
		AccountID:  account.ID,
		Method:     core.MethodWallet,
		Attributes: map[string]string{"address": address},
		OccurredAt: account.UpdatedAt,
	})
	return account, nil
}

// DisableAccount soft-disables an account and revokes all of its sessions.
func (s *AuthService) DisableAccount(ctx context.Context, caller, accountID string) (*core.Account, error) {
	if err := s.admit(ctx, RouteDisableAccount, caller); err != nil {
		return nil, err
	}

	account, err := s.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	account.Disabled = true
	account.UpdatedAt = s.now().UTC()
	if err := s.Accounts.UpdateAccount(ctx, account); err != nil {
		return nil, err
	}
	if err := s.Tokens.RevokeAccount(ctx, accountID); err != nil {
		return nil, err
	}

	s.Logger.WithField("account_id", accountID).Info("account disabled")
	return account, nil
}
