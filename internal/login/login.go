// ABOUTME: LNURL-auth protocol orchestration: start a login, accept a wallet signature, poll
// ABOUTME: Composes the challenge store, lnurl encoder, signature verifier and session issuer

package login

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/cachet/internal/auth"
	"github.com/2389/cachet/internal/lnurl"
	"github.com/2389/cachet/internal/store"
)

// Errors returned by Service. Unlisted errors are transient backend failures.
var (
	// ErrInvalidInput is returned for missing or malformed k1, sig or key values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrChallengeNotFound covers unknown, swept and expired challenges.
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrAlreadyBound is returned when a challenge was already used by some key.
	ErrAlreadyBound = errors.New("challenge already used")

	// ErrWaitingForLogin is returned by Poll while no signer has bound the challenge.
	ErrWaitingForLogin = errors.New("waiting for login")

	// ErrInvalidSignature matches every signature rejection.
	ErrInvalidSignature = auth.ErrInvalidSignature
)

// Issuer mints a session for an authenticated public key.
type Issuer interface {
	Issue(pubkey []byte) (*auth.Session, error)
}

// Config holds the dependencies of a Service.
type Config struct {
	Challenges   store.ChallengeStore
	Users        store.UserStore
	Verifier     auth.SignatureVerifier
	Issuer       Issuer
	CallbackURL  string
	ChallengeTTL time.Duration
	Logger       *slog.Logger
}

// Start is a freshly created login request.
type Start struct {
	LNURL     string    `json:"lnurl"`
	K1        string    `json:"k1"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service runs the LNURL-auth protocol.
type Service struct {
	challenges store.ChallengeStore
	users      store.UserStore
	verifier   auth.SignatureVerifier
	issuer     Issuer
	callback   string
	ttl        time.Duration
	logger     *slog.Logger
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Challenges == nil:
		return nil, errors.New("login: challenge store is required")
	case cfg.Users == nil:
		return nil, errors.New("login: user store is required")
	case cfg.Verifier == nil:
		return nil, errors.New("login: signature verifier is required")
	case cfg.Issuer == nil:
		return nil, errors.New("login: session issuer is required")
	case cfg.CallbackURL == "":
		return nil, errors.New("login: callback url is required")
	case cfg.ChallengeTTL <= 0:
		return nil, errors.New("login: challenge ttl must be positive")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		challenges: cfg.Challenges,
		users:      cfg.Users,
		verifier:   cfg.Verifier,
		issuer:     cfg.Issuer,
		callback:   cfg.CallbackURL,
		ttl:        cfg.ChallengeTTL,
		logger:     logger.With("component", "login"),
	}, nil
}

// StartLogin creates a challenge and returns it with its LNURL.
func (s *Service) StartLogin(ctx context.Context) (*Start, error) {
	c, err := s.challenges.CreateChallenge(ctx, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}

	encoded, err := lnurl.Encode(c.ID, s.callback)
	if err != nil {
		return nil, fmt.Errorf("encoding lnurl: %w", err)
	}

	s.logger.Debug("login started", "k1", c.IDHex(), "expires_at", c.ExpiresAt)
	return &Start{
		LNURL:     encoded,
		K1:        c.IDHex(),
		ExpiresAt: c.ExpiresAt,
	}, nil
}

// Verify handles a wallet callback. The signature is checked before anything
// is written, so a bad signature leaves the challenge usable.
func (s *Service) Verify(ctx context.Context, k1Hex, sigHex, keyHex string) error {
	k1, err := decodeHex("k1", k1Hex, store.ChallengeSize)
	if err != nil {
		return err
	}
	sig, err := decodeHex("sig", sigHex, 0)
	if err != nil {
		return err
	}
	key, err := decodeHex("key", keyHex, 0)
	if err != nil {
		return err
	}

	bound, err := s.challenges.Lookup(ctx, k1)
	if err != nil {
		return s.lookupError(err)
	}
	if bound != nil {
		return ErrAlreadyBound
	}

	if err := s.verifier.Verify(k1, sig, key); err != nil {
		reason := "unknown"
		var sigErr *auth.SignatureError
		if errors.As(err, &sigErr) {
			reason = sigErr.Reason
		}
		s.logger.Warn("signature rejected", "k1", k1Hex, "key", keyHex, "reason", reason)
		return fmt.Errorf("%w: %s", ErrInvalidSignature, reason)
	}

	if _, err := s.users.UpsertUser(ctx, key); err != nil {
		return fmt.Errorf("recording user: %w", err)
	}

	res, err := s.challenges.TryBind(ctx, k1, key)
	if err != nil {
		return fmt.Errorf("binding challenge: %w", err)
	}

	switch res {
	case store.BindBound:
		s.logger.Info("login verified", "k1", k1Hex, "key", keyHex)
		return nil
	case store.BindAlreadyBound:
		return ErrAlreadyBound
	default:
		return ErrChallengeNotFound
	}
}

// Poll returns a session once the challenge is bound.
func (s *Service) Poll(ctx context.Context, k1Hex string) (*auth.Session, error) {
	k1, err := decodeHex("k1", k1Hex, store.ChallengeSize)
	if err != nil {
		return nil, err
	}

	pubkey, err := s.challenges.Lookup(ctx, k1)
	if err != nil {
		return nil, s.lookupError(err)
	}
	if pubkey == nil {
		return nil, ErrWaitingForLogin
	}

	session, err := s.issuer.Issue(pubkey)
	if err != nil {
		return nil, fmt.Errorf("issuing session: %w", err)
	}
	return session, nil
}

func (s *Service) lookupError(err error) error {
	switch {
	case errors.Is(err, store.ErrChallengeNotFound), errors.Is(err, store.ErrChallengeExpired):
		return ErrChallengeNotFound
	case errors.Is(err, store.ErrInvalidChallenge):
		return fmt.Errorf("%w: k1", ErrInvalidInput)
	default:
		return fmt.Errorf("looking up challenge: %w", err)
	}
}

// decodeHex decodes a required hex parameter. A positive size also fixes its length.
func decodeHex(name, value string, size int) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidInput, name)
	}
	b, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not hex", ErrInvalidInput, name)
	}
	if size > 0 && len(b) != size {
		return nil, fmt.Errorf("%w: %s must be %d bytes", ErrInvalidInput, name, size)
	}
	return b, nil
}
