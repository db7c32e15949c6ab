package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"serverlist-backend/internal/apierror"
	"serverlist-backend/internal/database"
	"serverlist-backend/internal/jwt"
	"serverlist-backend/internal/models"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

const maxAuditTokens = 100

func (h *Handler) authToken(user *models.User) (*models.AuthToken, error) {
	token, err := h.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return nil, apierror.Internal(err)
	}
	return &models.AuthToken{
		AccessToken: token,
		ExpiresIn:   int64(h.tokens.TTL().Seconds()),
	}, nil
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	type Login struct {
		UsernameOrEmail string `json:"username_or_email"`
		Password        string `json:"password"`
	}

	var login Login
	if err := decodeJSON(w, r, &login); err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	if login.UsernameOrEmail == "" || login.Password == "" {
		apierror.Write(w, h.sugar, apierror.BadRequest("username and password can't be empty"))
		return
	}

	isEmail := strings.Contains(login.UsernameOrEmail, "@")
	user, err := h.users.UserByLogin(r.Context(), login.UsernameOrEmail, isEmail)
	if errors.Is(err, database.ErrNotFound) {
		apierror.Write(w, h.sugar, apierror.Unauthorized("wrong username or password"))
		return
	} else if err != nil {
		apierror.Write(w, h.sugar, apierror.Internal(err))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(login.Password)); err != nil {
		h.sugar.Debug(err)
		apierror.Write(w, h.sugar, apierror.Unauthorized("wrong username or password"))
		return
	}

	token, err := h.authToken(user)
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	ip := clientIP(r)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.users.UpdateLastLogin(ctx, user.ID, time.Now().UnixMilli(), ip); err != nil {
			h.sugar.Errorw("updating last login failed", "userID", user.ID, "error", err)
		}
	}()

	h.writeJSON(w, http.StatusOK, token)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.tokens.Revoke(r.Context(), rawToken(r)); err != nil {
		apierror.Write(w, h.sugar, authError(err))
		return
	}

	h.writeJSON(w, http.StatusOK, models.SuccessResponse{Message: "logged out"})
}

func (h *Handler) fieldErrors(err error) error {
	var validateErrs validator.ValidationErrors
	if !errors.As(err, &validateErrs) {
		return apierror.Internal(err)
	}

	fields := make([]string, 0, len(validateErrs))
	for _, e := range validateErrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", e.Field(), e.Tag()))
	}
	return apierror.Validation("invalid fields: %s", strings.Join(fields, ", "))
}

func (h *Handler) RegisterEmailCode(w http.ResponseWriter, r *http.Request) {
	type EmailCode struct {
		Email string `json:"email" validate:"mailbox"`
	}

	var request EmailCode
	if err := decodeJSON(w, r, &request); err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	if err := h.validate.Struct(request); err != nil {
		apierror.Write(w, h.sugar, h.fieldErrors(err))
		return
	}

	exists, err := h.users.UserExists(r.Context(), "", request.Email)
	if err != nil {
		apierror.Write(w, h.sugar, apierror.Internal(err))
		return
	}
	if exists {
		apierror.Write(w, h.sugar, apierror.Conflict("user already exists"))
		return
	}

	if err := h.codes.SendVerificationCode(r.Context(), request.Email); err != nil {
		apierror.Write(w, h.sugar, apierror.Internal(err))
		return
	}

	h.writeJSON(w, http.StatusOK, models.SuccessResponse{Message: "verification code sent to " + request.Email})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	type Registration struct {
		Email       string `json:"email" validate:"mailbox"`
		Password    string `json:"password" validate:"password"`
		Username    string `json:"username" validate:"username"`
		DisplayName string `json:"display_name" validate:"displayname"`
		Code        string `json:"code" validate:"len=6,numeric"`
	}

	var registration Registration
	if err := decodeJSON(w, r, &registration); err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	if err := h.validate.Struct(registration); err != nil {
		apierror.Write(w, h.sugar, h.fieldErrors(err))
		return
	}

	exists, err := h.users.UserExists(r.Context(), registration.Username, registration.Email)
	if err != nil {
		apierror.Write(w, h.sugar, apierror.Internal(err))
		return
	}
	if exists {
		apierror.Write(w, h.sugar, apierror.Conflict("username or email already taken"))
		return
	}

	valid, err := h.codes.VerifyCode(r.Context(), registration.Email, registration.Code)
	if err != nil {
		apierror.Write(w, h.sugar, apierror.Unavailable(err))
		return
	}
	if !valid {
		apierror.Write(w, h.sugar, apierror.BadRequest("verification code is wrong or expired"))
		return
	}

	userID, err := h.ids.Generate()
	if err != nil {
		apierror.Write(w, h.sugar, apierror.Internal(err))
		return
	}

	passwordBytes, err := bcrypt.GenerateFromPassword([]byte(registration.Password), h.bcryptCost)
	if err != nil {
		apierror.Write(w, h.sugar, apierror.Internal(err))
		return
	}

	user := models.User{
		ID:             userID,
		Username:       registration.Username,
		Email:          registration.Email,
		DisplayName:    registration.DisplayName,
		HashedPassword: string(passwordBytes),
		Role:           "user",
		IsActive:       true,
		CreatedAt:      time.Now().UnixMilli(),
	}

	if err := h.users.CreateUser(r.Context(), user); err != nil {
		apierror.Write(w, h.sugar, apierror.Internal(err))
		return
	}

	h.sugar.Infow("user registered", "userID", user.ID, "username", user.Username)

	token, err := h.authToken(&user)
	if err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, token)
}

// AuditSessions reports for each token whether it has been revoked, in the
// order they were sent.
func (h *Handler) AuditSessions(w http.ResponseWriter, r *http.Request) {
	type Audit struct {
		Tokens []string `json:"tokens"`
	}

	var audit Audit
	if err := decodeJSON(w, r, &audit); err != nil {
		apierror.Write(w, h.sugar, err)
		return
	}

	if len(audit.Tokens) > maxAuditTokens {
		apierror.Write(w, h.sugar, apierror.BadRequest("at most %d tokens can be audited at once", maxAuditTokens))
		return
	}

	revoked, err := h.tokens.BatchVerifyRevocation(r.Context(), audit.Tokens)
	if err != nil {
		if errors.Is(err, jwt.ErrUnavailable) {
			apierror.Write(w, h.sugar, apierror.Unavailable(err))
		} else {
			apierror.Write(w, h.sugar, apierror.Internal(err))
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string][]bool{"revoked": revoked})
}
