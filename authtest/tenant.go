package authtest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/omborsaas/go-session-client/session"
)

func (s *Server) handleTenantInfo(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	s.mu.Lock()
	tenant, ok := s.tenants[slug]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Tenant not found")
		return
	}
	body := map[string]interface{}{
		"name":             tenant.name,
		"logo_url":         tenant.logoURL,
		"payment_required": tenant.paymentRequired,
		"payment_message":  tenant.paymentMessage,
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	tenant, ok := s.tenants[slug]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Tenant not found")
		return
	}
	user, ok := tenant.users[req.Username]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword([]byte(user.passwordHash), []byte(req.Password)) != nil {
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	access := s.mintAccessToken("tenant", slug, req.Username)
	refresh := s.issueRefreshToken(slug, req.Username)

	info := user.info
	s.mu.Lock()
	info.TenantName = tenant.name
	info.PaymentBlocked = tenant.paymentRequired
	info.PaymentMessage = tenant.paymentMessage
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Login successful",
		"user":    info,
		"tokens": map[string]string{
			"access_token":  access,
			"refresh_token": refresh,
		},
	})
}

// handleRefresh validates and rotates the refresh token, then answers in
// whichever of the two production response shapes the server was configured
// with.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	delay := s.refreshDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	s.refreshCalls++
	if s.failRefresh {
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Refresh token invalid or expired")
		return
	}
	grant, ok := s.refreshTokens[req.RefreshToken]
	if !ok || grant.slug != slug {
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Refresh token invalid or expired")
		return
	}
	delete(s.refreshTokens, req.RefreshToken)
	rotated := uuid.New().String()
	s.refreshTokens[rotated] = grant
	access := s.mintAccessTokenLocked("tenant", slug, grant.username)
	nested := s.nestedRefresh
	s.mu.Unlock()

	if nested {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tokens": map[string]string{
				"access_token":  access,
				"refresh_token": rotated,
			},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  access,
		"refresh_token": rotated,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if !s.authenticate(r, "tenant", slug) {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleInventory is a stand-in authenticated business endpoint for gateway
// tests.
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if !s.authenticate(r, "tenant", slug) {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"slug":  slug,
		"items": []string{},
	})
}

func (s *Server) issueRefreshToken(slug, username string) string {
	token := uuid.New().String()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[token] = refreshGrant{slug: slug, username: username}
	return token
}

// UserInfo is a convenience for tests building expected users.
func UserInfo(id int64, username, fullName, role string) session.UserInfo {
	return session.UserInfo{ID: id, Username: username, FullName: fullName, Role: role}
}
