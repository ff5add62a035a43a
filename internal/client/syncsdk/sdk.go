// Package syncsdk is the peer's client for the coordinator's HTTP API and
// realtime channel.
package syncsdk

import (
	"fmt"
	"net/url"
	"runtime"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/peersync/internal/version"
)

const (
	HeaderUserAgent    = "User-Agent"
	HeaderSyncVersion  = "X-Sync-Version"
	HeaderSyncChecksum = "X-Sync-Checksum"
)

var UserAgent = fmt.Sprintf("peersync/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

type Config struct {
	BaseURL string
	PeerID  string
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoServerURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("sdk: server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("sdk: server url %q must be http or https", c.BaseURL)
	}
	if c.PeerID == "" {
		return ErrNoPeerID
	}
	return nil
}

// SyncSDK talks to a single coordinator on behalf of a single peer.
type SyncSDK struct {
	client  *req.Client
	baseURL string
	peerID  string
	Events  *EventsAPI
}

func New(cfg *Config) (*SyncSDK, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := req.C().
		SetBaseURL(cfg.BaseURL).
		SetCommonRetryCount(3).
		SetCommonRetryBackoffInterval(500*time.Millisecond, 5*time.Second).
		SetUserAgent(UserAgent).
		SetCommonHeader(HeaderSyncVersion, version.Version).
		SetCommonErrorResult(&APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	return &SyncSDK{
		client:  client,
		baseURL: cfg.BaseURL,
		peerID:  cfg.PeerID,
		Events:  newEventsAPI(cfg.BaseURL, cfg.PeerID),
	}, nil
}

func (s *SyncSDK) PeerID() string {
	return s.peerID
}

func (s *SyncSDK) BaseURL() string {
	return s.baseURL
}

// Close releases idle HTTP connections.
func (s *SyncSDK) Close() {
	s.client.GetClient().CloseIdleConnections()
}
