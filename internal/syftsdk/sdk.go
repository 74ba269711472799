// Package syftsdk is the typed HTTP client for the sync protocol.
package syftsdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/imroc/req/v3"

	"github.com/openmined/syftsync/internal/syftmsg"
	"github.com/openmined/syftsync/internal/utils"
	"github.com/openmined/syftsync/internal/version"
)

const (
	HeaderSyftVersion  = "X-Syft-Version"
	HeaderSyftUser     = "X-Syft-User"
	HeaderSyftDeviceId = "X-Syft-Device-Id"

	defaultTimeout = 60 * time.Second
)

var userAgent = fmt.Sprintf("SyftSync/%s (%s; %s; %s)",
	version.Version, version.Revision, osVersion(), runtime.GOARCH)

// SDK is the client for the sync server. Safe for concurrent use.
type SDK struct {
	client *req.Client
	config *Config

	mu           sync.Mutex
	refreshToken string

	Sync *SyncAPI
}

func New(config *Config) (*SDK, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := req.C().
		SetBaseURL(config.BaseURL).
		SetTimeout(defaultTimeout).
		SetUserAgent(userAgent).
		SetCommonHeader(HeaderSyftVersion, version.Version).
		SetCommonHeader(HeaderSyftUser, config.Email).
		SetCommonHeader(HeaderSyftDeviceId, utils.HWID).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		SetCommonErrorResult(&syftmsg.APIError{}).
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(1 * time.Second)

	if config.AccessToken != "" {
		client.SetCommonBearerAuthToken(config.AccessToken)
	}

	s := &SDK{
		client:       client,
		config:       config,
		refreshToken: config.RefreshToken,
	}

	// retry transient failures; a 401 triggers one token rotation first
	client.SetCommonRetryCondition(func(resp *req.Response, err error) bool {
		if err != nil {
			return true
		}
		return resp.StatusCode >= http.StatusInternalServerError ||
			resp.StatusCode == http.StatusUnauthorized
	})
	client.AddCommonRetryHook(func(resp *req.Response, err error) {
		if err == nil && resp.StatusCode == http.StatusUnauthorized {
			if rerr := s.rotateTokens(resp.Request.Context()); rerr != nil {
				slog.Warn("token refresh failed", "error", rerr)
			}
		}
	})

	s.Sync = newSyncAPI(client)
	return s, nil
}

func (s *SDK) Email() string {
	return s.config.Email
}

func (s *SDK) Close() {
	s.client.GetTransport().CloseIdleConnections()
}

// bareClient is an unauthenticated client for the pre-login auth endpoints.
func bareClient(serverURL string) *req.Client {
	return req.C().
		SetBaseURL(serverURL).
		SetTimeout(defaultTimeout).
		SetUserAgent(userAgent).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		SetCommonErrorResult(&syftmsg.APIError{})
}

// rotateTokens trades the refresh token for a new pair and installs the new
// bearer on the client.
func (s *SDK) rotateTokens(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refreshToken == "" {
		return ErrNoRefreshToken
	}

	pair, err := RefreshAuthTokens(ctx, s.config.BaseURL, s.refreshToken)
	if err != nil {
		return err
	}

	s.refreshToken = pair.RefreshToken
	s.client.SetCommonBearerAuthToken(pair.AccessToken)

	if s.config.OnTokenRefresh != nil {
		s.config.OnTokenRefresh(pair.AccessToken, pair.RefreshToken)
	}
	return nil
}
