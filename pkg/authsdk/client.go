package authsdk

import (
	"net/http"
	"strings"
	"time"
)

// SDKClient is a client for the gatehouse service. It provides the public
// operations and creates authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// UserAgent is sent on every request when set.
	UserAgent string
}

// NewSDKClient creates a new gatehouse client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewStudentSession wraps an existing student credential.
func (c *SDKClient) NewStudentSession(accessToken, deviceID string) *StudentSession {
	return &StudentSession{Session: newSession(c, accessToken, deviceID)}
}

// NewAdminSession wraps an existing admin credential.
func (c *SDKClient) NewAdminSession(accessToken, deviceID, sessionID string) *AdminSession {
	return &AdminSession{Session: newSession(c, accessToken, deviceID), sessionID: sessionID}
}
