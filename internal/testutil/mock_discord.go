package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Codes and tokens the mock OAuth server understands.
const (
	MockValidCode   = "valid_code"
	MockAccessToken = "mock_access_token_123"
	MockUserID      = "123456789012345678"
	MockUsername    = "TestAdmin"
)

// MockDiscordServer fakes Discord's OAuth token endpoint and /users/@me.
type MockDiscordServer struct {
	Server *httptest.Server

	mu            sync.Mutex
	tokenCalls    int
	userInfoCalls int
}

type discordError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NewMockDiscordServer starts the mock server. "valid_code" exchanges for
// MockAccessToken, which resolves to MockUserID; anything else fails.
func NewMockDiscordServer() *MockDiscordServer {
	mds := &MockDiscordServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		mds.mu.Lock()
		mds.tokenCalls++
		mds.mu.Unlock()

		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		switch r.FormValue("code") {
		case MockValidCode:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token":  MockAccessToken,
				"token_type":    "Bearer",
				"expires_in":    604800,
				"refresh_token": "mock_refresh_token_456",
				"scope":         "identify guilds",
			})
		case "server_error":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("Internal Server Error"))
		default:
			writeJSON(w, http.StatusBadRequest, discordError{Error: "invalid_grant", ErrorDescription: "Invalid authorization code"})
		}
	})

	mux.HandleFunc("/api/v10/users/@me", func(w http.ResponseWriter, r *http.Request) {
		mds.mu.Lock()
		mds.userInfoCalls++
		mds.mu.Unlock()

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		switch token {
		case MockAccessToken:
			writeJSON(w, http.StatusOK, map[string]string{
				"id":       MockUserID,
				"username": MockUsername,
				"avatar":   "avatar_hash_123",
			})
		case "rate_limited":
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, discordError{Error: "rate_limited"})
		default:
			writeJSON(w, http.StatusUnauthorized, discordError{Error: "unauthorized", ErrorDescription: "Invalid token"})
		}
	})

	mds.Server = httptest.NewServer(mux)
	return mds
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Close closes the mock server.
func (mds *MockDiscordServer) Close() {
	if mds.Server != nil {
		mds.Server.Close()
	}
}

// APIBaseURL is the base to pass to DiscordClient.SetBaseURL.
func (mds *MockDiscordServer) APIBaseURL() string {
	return mds.Server.URL + "/api"
}

// TokenCalls returns how many token exchanges were attempted.
func (mds *MockDiscordServer) TokenCalls() int {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	return mds.tokenCalls
}

// UserInfoCalls returns how many /users/@me requests were made.
func (mds *MockDiscordServer) UserInfoCalls() int {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	return mds.userInfoCalls
}
