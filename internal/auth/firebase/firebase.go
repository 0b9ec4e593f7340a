// Package firebase authenticates with Firebase Authentication. Accounts are
// created through the Admin SDK; password sign-in has no Admin SDK call, so
// it goes through the Identity Toolkit REST endpoint and the returned ID
// token is verified with the SDK.
package firebase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/AdityaBheke/BusyBuy/internal/domain"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
	"github.com/AdityaBheke/BusyBuy/pkg/httpclient"
)

// DefaultEndpoint is the Identity Toolkit base URL.
const DefaultEndpoint = "https://identitytoolkit.googleapis.com"

const serviceName = "identitytoolkit"

// UserCreator is the part of *auth.Client used for sign-up.
type UserCreator interface {
	CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error)
}

// TokenVerifier is the part of *auth.Client used to check sign-in tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// Config configures the authenticator.
type Config struct {
	ProjectID       string
	CredentialsFile string
	APIKey          string
	Endpoint        string
}

// NewAuthClient opens a Firebase Auth client for cfg.
func NewAuthClient(ctx context.Context, cfg Config) (*auth.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app (project=%s): %w", cfg.ProjectID, err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	return client, nil
}

// Authenticator implements session.Authenticator.
type Authenticator struct {
	users    UserCreator
	verifier TokenVerifier
	http     httpclient.Doer
	apiKey   string
	endpoint string
	logger   *slog.Logger
}

// New creates an Authenticator. verifier may be nil to trust the REST
// response without a second check.
func New(users UserCreator, verifier TokenVerifier, doer httpclient.Doer, cfg Config, logger *slog.Logger) *Authenticator {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Authenticator{
		users:    users,
		verifier: verifier,
		http:     doer,
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimRight(endpoint, "/"),
		logger:   logger,
	}
}

func (a *Authenticator) CreateAccount(ctx context.Context, email, password string) error {
	params := (&auth.UserToCreate{}).Email(email).Password(password)
	rec, err := a.users.CreateUser(ctx, params)
	if err != nil {
		if auth.IsEmailAlreadyExists(err) {
			return apperrors.AuthFailure("could not create account", apperrors.AlreadyExists("account", "email", email))
		}
		return apperrors.AuthFailure("could not create account", err)
	}
	a.logger.InfoContext(ctx, "firebase account created", slog.String("uid", rec.UID))
	return nil
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID string `json:"localId"`
	IDToken string `json:"idToken"`
}

func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (domain.Identity, error) {
	u := fmt.Sprintf("%s/v1/accounts:signInWithPassword?key=%s", a.endpoint, url.QueryEscape(a.apiKey))
	req, err := httpclient.NewJSONRequest(ctx, u, signInRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	})
	if err != nil {
		return domain.Identity{}, err
	}

	resp, err := a.http.Do(ctx, req)
	if err != nil {
		return domain.Identity{}, apperrors.ServiceUnavailable("sign-in service unavailable")
	}
	if resp.StatusCode != http.StatusOK {
		rerr := httpclient.ParseResponseError(resp, serviceName)
		var remote *httpclient.RemoteError
		if errors.As(rerr, &remote) && httpclient.IsClientError(remote.StatusCode) {
			// EMAIL_NOT_FOUND, INVALID_PASSWORD, USER_DISABLED: never surfaced
			return domain.Identity{}, apperrors.AuthFailure("invalid email or password", rerr)
		}
		return domain.Identity{}, fmt.Errorf("sign in: %w", rerr)
	}
	defer func() { _ = resp.Body.Close() }()

	var out signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Identity{}, fmt.Errorf("decode sign-in response: %w", err)
	}
	if out.LocalID == "" {
		return domain.Identity{}, apperrors.AuthFailure("invalid email or password", errors.New("empty localId"))
	}

	if a.verifier != nil {
		tok, err := a.verifier.VerifyIDToken(ctx, out.IDToken)
		if err != nil {
			return domain.Identity{}, apperrors.AuthFailure("invalid email or password", err)
		}
		if tok.UID != out.LocalID {
			return domain.Identity{}, apperrors.AuthFailure("invalid email or password",
				fmt.Errorf("token uid %q does not match %q", tok.UID, out.LocalID))
		}
	}

	return domain.Identity{ID: out.LocalID}, nil
}
