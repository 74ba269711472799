// Package auth issues and validates the email-OTP / JWT token flow.
package auth

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/openmined/syftsync/internal/server/email"
	"github.com/openmined/syftsync/internal/utils"
)

//go:embed authmail.html.tmpl
var emailTemplate string

var (
	ErrInvalidOTP          = errors.New("invalid otp")
	ErrInvalidRequestToken = errors.New("invalid request token")
)

type Service struct {
	config        *Config
	codes         *expirable.LRU[string, string]
	emailTemplate *template.Template
}

func NewService(config *Config) *Service {
	return &Service{
		config:        config,
		codes:         expirable.NewLRU[string, string](0, nil, config.EmailOTPExpiry), // 0 = LRU off
		emailTemplate: template.Must(template.New("authmail").Parse(emailTemplate)),
	}
}

func (s *Service) IsEnabled() bool {
	return s.config.Enabled
}

// SendOTP mails a one-time code to userEmail.
func (s *Service) SendOTP(ctx context.Context, userEmail string) error {
	if !s.IsEnabled() {
		return nil
	}

	otp, err := s.generateOTP(userEmail)
	if err != nil {
		return err
	}
	return s.sendOTPEmail(ctx, userEmail, otp)
}

// GenerateTokens trades a valid OTP for an access/refresh token pair.
func (s *Service) GenerateTokens(ctx context.Context, userEmail string, otp string) (string, string, error) {
	if !s.IsEnabled() {
		slog.Debug("auth is disabled, will not generate tokens")
		return "", "", nil
	}

	if err := s.verifyOTP(userEmail, otp); err != nil {
		return "", "", fmt.Errorf("failed to generate token pair: %w", err)
	}

	accessToken, refreshToken, err := generateTokenPair(userEmail, s.config)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate token pair: %w", err)
	}
	return accessToken, refreshToken, nil
}

// RefreshToken trades a valid refresh token for a fresh pair.
func (s *Service) RefreshToken(ctx context.Context, oldRefreshToken string) (string, string, error) {
	if oldRefreshToken == "" {
		return "", "", ErrInvalidRequestToken
	}

	claims, err := s.ValidateRefreshToken(ctx, oldRefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to refresh token pair: %w", err)
	}

	accessToken, refreshToken, err := generateTokenPair(claims.Subject, s.config)
	if err != nil {
		return "", "", fmt.Errorf("failed to refresh token pair: %w", err)
	}
	return accessToken, refreshToken, nil
}

func (s *Service) ValidateAccessToken(ctx context.Context, accessToken string) (*Claims, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("invalid access token")
	}
	claims, err := ParseClaims(accessToken, s.config.AccessTokenSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	if claims.Type != AccessToken {
		return nil, fmt.Errorf("invalid access token: wrong token type got %q", claims.Type)
	}
	return claims, nil
}

func (s *Service) ValidateRefreshToken(ctx context.Context, refreshToken string) (*Claims, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("invalid refresh token")
	}
	claims, err := ParseClaims(refreshToken, s.config.RefreshTokenSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}
	if claims.Type != RefreshToken {
		return nil, fmt.Errorf("invalid refresh token: wrong token type got %q", claims.Type)
	}
	return claims, nil
}

func (s *Service) generateOTP(userEmail string) (string, error) {
	if err := utils.ValidateEmail(userEmail); err != nil {
		return "", err
	}

	otp, err := utils.RandBase34(s.config.EmailOTPLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	s.codes.Add(userEmail, otp)
	return otp, nil
}

func (s *Service) verifyOTP(userEmail string, otp string) error {
	if err := utils.ValidateEmail(userEmail); err != nil {
		return err
	}
	if len(otp) != s.config.EmailOTPLength {
		return ErrInvalidOTP
	}

	storedOTP, ok := s.codes.Get(userEmail)
	if !ok || storedOTP != otp {
		return ErrInvalidOTP
	}

	s.codes.Remove(userEmail)
	return nil
}

func (s *Service) sendOTPEmail(ctx context.Context, to, code string) error {
	var buf bytes.Buffer
	if err := s.emailTemplate.Execute(&buf, map[string]any{
		"Email":        to,
		"Code":         code,
		"Year":         time.Now().Year(),
		"ValidityMins": s.config.EmailOTPExpiry.Minutes(),
	}); err != nil {
		return fmt.Errorf("failed to generate email: %w", err)
	}

	return email.Send(ctx, &email.EmailInfo{
		FromName:  "SyftSync",
		FromEmail: s.config.EmailAddr,
		Subject:   "SyftSync Verification Code",
		ToEmail:   to,
		HTMLBody:  buf.String(),
	})
}

func generateTokenPair(subject string, config *Config) (accessToken string, refreshToken string, err error) {
	accessToken, err = newToken(subject, config.TokenIssuer, config.AccessTokenSecret, config.AccessTokenExpiry, AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err = newToken(subject, config.TokenIssuer, config.RefreshTokenSecret, config.RefreshTokenExpiry, RefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return accessToken, refreshToken, nil
}

func newToken(subject, issuer, jwtSecret string, expiry time.Duration, tokenType TokenType) (string, error) {
	var expiryTime *jwt.NumericDate
	if expiry > 0 {
		expiryTime = jwt.NewNumericDate(time.Now().Add(expiry))
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: expiryTime,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Type: tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}
