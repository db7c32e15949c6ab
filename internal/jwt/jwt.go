package jwt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	ErrMalformed    = errors.New("token is malformed")
	ErrBadSignature = errors.New("token signature is invalid")
	ErrExpired      = errors.New("token is expired")
	ErrRevoked      = errors.New("token has been revoked")
	ErrUnavailable  = errors.New("revocation store unavailable")
)

const revokedKeyPrefix = "token:revoked:"

// RevocationStore is the subset of keyValue.Store the service needs.
type RevocationStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	ExistsMany(ctx context.Context, keys []string) ([]bool, error)
	Set(ctx context.Context, key string, val string, expires time.Duration) error
}

type UserToken struct {
	UserID int64 `json:"id"`
	jwt.RegisteredClaims
}

// Username is carried in the sub claim.
func (t *UserToken) Username() string {
	return t.Subject
}

type Config struct {
	Secret string
	TTL    time.Duration
	// used for tokens whose expiry can't be read back when revoking them
	DefaultRevokeWindow time.Duration
	FailOpen            bool
}

type Service struct {
	sugar  *zap.SugaredLogger
	store  RevocationStore
	secret []byte
	cfg    Config
	now    func() time.Time
}

func New(cfg Config, store RevocationStore, sugar *zap.SugaredLogger) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret can't be empty")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if cfg.DefaultRevokeWindow <= 0 {
		cfg.DefaultRevokeWindow = 24 * time.Hour
	}

	return &Service{
		sugar:  sugar,
		store:  store,
		secret: []byte(cfg.Secret),
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// TTL is how long issued tokens stay valid.
func (s *Service) TTL() time.Duration {
	return s.cfg.TTL
}

func (s *Service) Issue(userID int64, username string) (string, error) {
	currentTime := s.now().UTC()

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, UserToken{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(currentTime.Add(s.cfg.TTL)),
		},
	})

	return token.SignedString(s.secret)
}

func (s *Service) parse(tokenString string, options ...jwt.ParserOption) (*UserToken, error) {
	options = append(options,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	claims := &UserToken{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	}, options...)

	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	default:
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}

// Verify checks signature and expiry, then asks the revocation store. When the
// store can't be reached the token is refused with ErrUnavailable, unless the
// service was configured to fail open.
func (s *Service) Verify(ctx context.Context, tokenString string) (*UserToken, error) {
	claims, err := s.parse(tokenString, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	revoked, err := s.store.Exists(ctx, revokedKey(tokenString))
	if err != nil {
		if s.cfg.FailOpen {
			s.sugar.Warnw("revocation store unavailable, accepting token", "userID", claims.UserID, "error", err)
			return claims, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if revoked {
		return nil, ErrRevoked
	}

	return claims, nil
}

// Revoke blacklists the token until it would have expired anyway. A token
// that is already past its expiry needs no marker.
func (s *Service) Revoke(ctx context.Context, tokenString string) error {
	ttl := s.cfg.DefaultRevokeWindow

	claims, err := s.parse(tokenString, jwt.WithoutClaimsValidation())
	if err == nil && claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return nil
		}
	} else {
		s.sugar.Debugf("Revoking undecodable token with default window of %s", ttl)
	}

	if err := s.store.Set(ctx, revokedKey(tokenString), "1", ttl); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// BatchVerifyRevocation reports for each token whether it has been revoked,
// in the same order as tokens.
func (s *Service) BatchVerifyRevocation(ctx context.Context, tokens []string) ([]bool, error) {
	keys := make([]string, len(tokens))
	for i, token := range tokens {
		keys[i] = revokedKey(token)
	}

	revoked, err := s.store.ExistsMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return revoked, nil
}

func revokedKey(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return revokedKeyPrefix + hex.EncodeToString(sum[:])
}
