package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"serverlist-backend/internal/apierror"
	"serverlist-backend/internal/jwt"
)

type UserTokenKeyType struct{}
type RawTokenKeyType struct{}

func AllowCors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

var errBadAuthHeader = errors.New("authorization header is not a bearer token")

// bearerToken returns "" without error when there is no Authorization header.
// The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", nil
	}

	scheme, token, found := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errBadAuthHeader
	}
	return token, nil
}

func authError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrUnavailable):
		return apierror.Unavailable(err)
	case errors.Is(err, jwt.ErrExpired):
		return apierror.Unauthorized("login expired")
	case errors.Is(err, jwt.ErrRevoked):
		return apierror.Unauthorized("token has been revoked")
	default:
		return apierror.Unauthorized("invalid token")
	}
}

// authenticate puts the verified token into the request context. It returns
// the request unchanged when no token was sent.
func (h *Handler) authenticate(r *http.Request) (*http.Request, error) {
	if _, ok := r.Context().Value(UserTokenKeyType{}).(*jwt.UserToken); ok {
		return r, nil
	}

	raw, err := bearerToken(r)
	if err != nil {
		return nil, apierror.Unauthorized("invalid authorization header")
	}
	if raw == "" {
		return r, nil
	}

	userToken, err := h.tokens.Verify(r.Context(), raw)
	if err != nil {
		h.sugar.Debug(err)
		return nil, authError(err)
	}

	ctx := context.WithValue(r.Context(), UserTokenKeyType{}, userToken)
	ctx = context.WithValue(ctx, RawTokenKeyType{}, raw)
	return r.WithContext(ctx), nil
}

// OptionalAuth lets anonymous requests through, but a token that is sent
// must be valid.
func (h *Handler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, err := h.authenticate(r)
		if err != nil {
			apierror.Write(w, h.sugar, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, err := h.authenticate(r)
		if err != nil {
			apierror.Write(w, h.sugar, err)
			return
		}
		if userToken(r) == nil {
			apierror.Write(w, h.sugar, apierror.Unauthorized("login required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userToken(r *http.Request) *jwt.UserToken {
	token, _ := r.Context().Value(UserTokenKeyType{}).(*jwt.UserToken)
	return token
}

// userID is nil for anonymous requests.
func userID(r *http.Request) *int64 {
	if token := userToken(r); token != nil {
		id := token.UserID
		return &id
	}
	return nil
}

func rawToken(r *http.Request) string {
	raw, _ := r.Context().Value(RawTokenKeyType{}).(string)
	return raw
}
