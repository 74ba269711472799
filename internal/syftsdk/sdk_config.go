package syftsdk

import (
	"github.com/openmined/syftsync/internal/utils"
)

const DefaultBaseURL = "https://syftbox.net"

// Config is the configuration for the SDK client.
type Config struct {
	BaseURL      string // required
	Email        string // required
	RefreshToken string // required when the server runs with auth enabled
	AccessToken  string // optional, refreshed on demand

	// OnTokenRefresh is invoked with the new pair whenever the SDK rotates
	// tokens, so the caller can persist them.
	OnTokenRefresh func(accessToken, refreshToken string)
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoServerURL
	}
	if err := utils.ValidateEmail(c.Email); err != nil {
		return ErrInvalidEmail
	}
	return nil
}
