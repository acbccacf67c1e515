// Package authtest provides an in-process fake of the multi-tenant backend
// for tests: tenant-scoped login/refresh with real JWT access tokens and
// rotating refresh tokens, the operator's four-step verification with
// lockout and throttling, and the unauthenticated tenant status endpoint.
//
// The fake mirrors the production API's observable behavior, including the
// two refresh response shapes callers must accept and the {"detail": ...}
// error envelope.
package authtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/omborsaas/go-session-client/session"
)

const defaultAccessTTL = 15 * time.Minute

type tenantUser struct {
	passwordHash string
	info         session.UserInfo
}

type tenantState struct {
	name            string
	logoURL         string
	paymentRequired bool
	paymentMessage  string
	users           map[string]*tenantUser
}

type refreshGrant struct {
	slug     string
	username string
}

// Server is the fake backend. Construct with NewServer, point the gateway at
// URL(), and close when done.
type Server struct {
	httpSrv *httptest.Server
	secret  []byte

	mu            sync.Mutex
	now           func() time.Time
	nestedRefresh bool
	failRefresh   bool
	refreshCalls  int
	refreshDelay  time.Duration
	stepDelays    map[int]time.Duration
	throttled     bool

	tenants       map[string]*tenantState
	refreshTokens map[string]refreshGrant
	validJTI      map[string]bool

	admins map[string]*adminAccount
}

// Option configures the fake server.
type Option func(*Server)

// WithNestedRefreshResponse makes the refresh endpoint nest the new tokens
// under a "tokens" object instead of returning them at the top level. The
// production backend has been observed doing both.
func WithNestedRefreshResponse() Option {
	return func(s *Server) { s.nestedRefresh = true }
}

// NewServer starts the fake backend.
func NewServer(options ...Option) *Server {
	s := &Server{
		secret:        []byte(uuid.New().String()),
		now:           time.Now,
		stepDelays:    make(map[int]time.Duration),
		tenants:       make(map[string]*tenantState),
		refreshTokens: make(map[string]refreshGrant),
		validJTI:      make(map[string]bool),
		admins:        make(map[string]*adminAccount),
	}
	for _, opt := range options {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /tenant/{slug}/info", s.handleTenantInfo)
	mux.HandleFunc("POST /{slug}/auth/login", s.handleLogin)
	mux.HandleFunc("POST /{slug}/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /{slug}/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /{slug}/inventory", s.handleInventory)
	mux.HandleFunc("POST /super-admin/auth/verify-step1", s.handleStep1)
	mux.HandleFunc("POST /super-admin/auth/verify-step2", s.handleStep2)
	mux.HandleFunc("POST /super-admin/auth/verify-step3", s.handleStep3)
	mux.HandleFunc("POST /super-admin/auth/verify-step4", s.handleStep4)
	mux.HandleFunc("GET /super-admin/dashboard", s.handleDashboard)

	s.httpSrv = httptest.NewServer(mux)
	return s
}

// URL returns the base URL of the fake API.
func (s *Server) URL() string {
	return s.httpSrv.URL
}

// Close shuts the fake backend down.
func (s *Server) Close() {
	s.httpSrv.Close()
}

// AddTenant registers a tenant partition.
func (s *Server) AddTenant(slug, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[slug] = &tenantState{name: name, users: make(map[string]*tenantUser)}
}

// AddUser registers a tenant user with the given password.
func (s *Server) AddUser(slug, username, password string, info session.UserInfo) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[slug]
	if !ok {
		panic(fmt.Sprintf("authtest: unknown tenant %q", slug))
	}
	info.Username = username
	tenant.users[username] = &tenantUser{passwordHash: string(hash), info: info}
}

// SetPaymentRequired toggles the tenant's payment gate.
func (s *Server) SetPaymentRequired(slug string, required bool, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenant, ok := s.tenants[slug]; ok {
		tenant.paymentRequired = required
		tenant.paymentMessage = message
	}
}

// RevokeAccessTokens invalidates every outstanding access token, so the next
// authenticated call fails with 401. Refresh tokens stay valid.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validJTI = make(map[string]bool)
}

// FailRefresh makes the refresh endpoint reject every request.
func (s *Server) FailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// SetRefreshDelay makes the refresh endpoint sleep before responding, so
// tests can pile up concurrent 401s behind one in-flight refresh.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// IssueTenantCredentials mints a valid credential pair for a registered
// tenant user without going through the login endpoint.
func (s *Server) IssueTenantCredentials(slug, username string) session.Credentials {
	access := s.mintAccessToken("tenant", slug, username)
	refresh := s.issueRefreshToken(slug, username)
	return session.Credentials{AccessToken: access, RefreshToken: refresh}
}

// IssueOperatorCredentials mints a valid operator credential pair.
func (s *Server) IssueOperatorCredentials(username string) session.Credentials {
	access := s.mintAccessToken("operator", "", username)
	return session.Credentials{AccessToken: access, RefreshToken: uuid.New().String()}
}

// RefreshCalls returns how many refresh requests the server has received.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// SetNow overrides the server's clock, used by lockout-expiry tests.
func (s *Server) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetStepDelay makes the given operator verification step sleep before
// responding, so tests can abandon a flow mid-call.
func (s *Server) SetStepDelay(step int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepDelays[step] = d
}

// SetThrottled makes every operator verification step answer 429.
func (s *Server) SetThrottled(throttled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttled = throttled
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

type claims struct {
	Domain string `json:"dom"`
	Slug   string `json:"slug,omitempty"`
	jwt.RegisteredClaims
}

// mintAccessToken issues a signed JWT and remembers its ID so it can be
// revoked wholesale.
func (s *Server) mintAccessToken(domain, slug, username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintAccessTokenLocked(domain, slug, username)
}

func (s *Server) mintAccessTokenLocked(domain, slug, username string) string {
	jti := uuid.New().String()
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Domain: domain,
		Slug:   slug,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(defaultAccessTTL)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	s.validJTI[jti] = true
	return signed
}

// authenticate validates the bearer token on r for the expected domain and,
// for tenant calls, the slug in the path.
func (s *Server) authenticate(r *http.Request, domain, slug string) bool {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return false
	}

	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return false
	}
	if c.Domain != domain || (domain == "tenant" && c.Slug != slug) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validJTI[c.ID]
}
