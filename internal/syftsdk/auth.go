package syftsdk

import (
	"context"

	"github.com/openmined/syftsync/internal/syftmsg"
)

const (
	authRequestEmailToken  = "/auth/request_email_token"
	authValidateEmailToken = "/auth/validate_email_token"
	authRefresh            = "/auth/refresh"
	authWhoami             = "/auth/whoami"
	registerEndpoint       = "/register"
)

type EmailTokenRequest struct {
	Email string `json:"email"`
}

type ValidateEmailTokenRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type refreshRequest struct {
	OldRefreshToken string `json:"refreshToken"`
}

type WhoamiResponse struct {
	Email string `json:"email"`
}

// RequestEmailToken starts the login flow: the server mails an OTP to email.
// Standalone because it runs before any tokens exist.
func RequestEmailToken(ctx context.Context, serverURL, email string) error {
	res, err := bareClient(serverURL).R().
		SetContext(ctx).
		SetBody(&EmailTokenRequest{Email: email}).
		Post(authRequestEmailToken)
	return handleAPIError(res, err, "request email token")
}

// ValidateEmailToken trades the mailed OTP for a token pair.
func ValidateEmailToken(ctx context.Context, serverURL string, request *ValidateEmailTokenRequest) (*TokenPair, error) {
	var pair TokenPair
	res, err := bareClient(serverURL).R().
		SetContext(ctx).
		SetBody(request).
		SetSuccessResult(&pair).
		Post(authValidateEmailToken)
	if err := handleAPIError(res, err, "validate email token"); err != nil {
		return nil, err
	}
	return &pair, nil
}

// RefreshAuthTokens trades a refresh token for a fresh pair.
func RefreshAuthTokens(ctx context.Context, serverURL, refreshToken string) (*TokenPair, error) {
	var pair TokenPair
	res, err := bareClient(serverURL).R().
		SetContext(ctx).
		SetBody(&refreshRequest{OldRefreshToken: refreshToken}).
		SetSuccessResult(&pair).
		Post(authRefresh)
	if err := handleAPIError(res, err, "refresh tokens"); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Whoami echoes the email the server resolved from the bearer token.
func (s *SDK) Whoami(ctx context.Context) (*WhoamiResponse, error) {
	var resp WhoamiResponse
	res, err := s.client.R().
		SetContext(ctx).
		SetSuccessResult(&resp).
		Get(authWhoami)
	if err := handleAPIError(res, err, "whoami"); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register records the user on the server and provisions the datasite root.
// AlreadyExists is not an error for a returning user.
func (s *SDK) Register(ctx context.Context) error {
	res, err := s.client.R().
		SetContext(ctx).
		SetBody(&syftmsg.RegisterRequest{Email: s.config.Email}).
		Post(registerEndpoint)
	return handleAPIError(res, err, "register")
}
