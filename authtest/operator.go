package authtest

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/omborsaas/go-session-client/session"
)

const (
	maxFailedAttempts = 5
	lockoutDuration   = 15 * time.Minute
)

type adminAccount struct {
	info         session.AdminInfo
	passwordHash string
	pinHash      string // empty when the PIN factor is not configured
	codeHash     string // empty when the security code factor is not configured
	failed       int
	lockedUntil  time.Time
}

// AddAdmin registers an operator account. Empty pin or code means that
// factor is not configured and the corresponding step is skipped.
func (s *Server) AddAdmin(username, password, pin, code string) {
	account := &adminAccount{
		passwordHash: mustHash(password),
	}
	if pin != "" {
		account.pinHash = mustHash(pin)
	}
	if code != "" {
		account.codeHash = mustHash(code)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account.info = session.AdminInfo{ID: int64(len(s.admins) + 1), Username: username}
	s.admins[username] = account
}

// LockAdmin force-locks an account for the given duration.
func (s *Server) LockAdmin(username string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.admins[username]; ok {
		account.lockedUntil = s.now().Add(d)
	}
}

func mustHash(v string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(v), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
}

func checkHash(hash, v string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(v)) == nil
}

type stepRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	PIN          string `json:"pin"`
	SecurityCode string `json:"security_code"`
}

// gate runs the common front half of every verification step: delay,
// throttle, body decode. It returns false after writing a response.
func (s *Server) gate(w http.ResponseWriter, r *http.Request, step int, req *stepRequest) bool {
	s.mu.Lock()
	delay := s.stepDelays[step]
	throttled := s.throttled
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if throttled {
		writeDetail(w, http.StatusTooManyRequests, "Too many attempts. Wait 5 minutes.")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// checkLockLocked enforces an active lockout, clearing it once expired.
// Returns a non-empty message while the account is locked.
func (s *Server) checkLockLocked(account *adminAccount) string {
	if account.lockedUntil.IsZero() {
		return ""
	}
	now := s.now()
	if now.Before(account.lockedUntil) {
		minutes := int(math.Ceil(account.lockedUntil.Sub(now).Minutes()))
		return fmt.Sprintf("Account locked. Try again in %d minutes.", minutes)
	}
	account.lockedUntil = time.Time{}
	account.failed = 0
	return ""
}

func (s *Server) recordFailureLocked(account *adminAccount) {
	account.failed++
	if account.failed >= maxFailedAttempts {
		account.lockedUntil = s.now().Add(lockoutDuration)
	}
}

func (s *Server) handleStep1(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if !s.gate(w, r, 1, &req) {
		return
	}

	s.mu.Lock()
	account, ok := s.admins[req.Username]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if msg := s.checkLockLocked(account); msg != "" {
		s.mu.Unlock()
		writeDetail(w, http.StatusLocked, msg)
		return
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "step": 1})
}

func (s *Server) handleStep2(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if !s.gate(w, r, 2, &req) {
		return
	}

	s.mu.Lock()
	account, ok := s.admins[req.Username]
	if !ok || !checkHash(account.passwordHash, req.Password) {
		if ok {
			s.recordFailureLocked(account)
		}
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if msg := s.checkLockLocked(account); msg != "" {
		s.mu.Unlock()
		writeDetail(w, http.StatusLocked, msg)
		return
	}
	hasPIN := account.pinHash != ""
	hasCode := account.codeHash != ""
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"step":     2,
		"has_pin":  hasPIN,
		"has_code": hasCode,
	})
}

func (s *Server) handleStep3(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if !s.gate(w, r, 3, &req) {
		return
	}

	s.mu.Lock()
	account, ok := s.admins[req.Username]
	if !ok || !checkHash(account.passwordHash, req.Password) {
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if account.pinHash != "" && !checkHash(account.pinHash, req.PIN) {
		s.recordFailureLocked(account)
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Invalid PIN")
		return
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "step": 3})
}

func (s *Server) handleStep4(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if !s.gate(w, r, 4, &req) {
		return
	}

	s.mu.Lock()
	account, ok := s.admins[req.Username]
	if !ok || !checkHash(account.passwordHash, req.Password) {
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if account.pinHash != "" && !checkHash(account.pinHash, req.PIN) {
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if account.codeHash != "" && !checkHash(account.codeHash, req.SecurityCode) {
		s.recordFailureLocked(account)
		s.mu.Unlock()
		writeDetail(w, http.StatusUnauthorized, "Invalid security code")
		return
	}
	account.failed = 0
	account.lockedUntil = time.Time{}
	info := account.info
	access := s.mintAccessTokenLocked("operator", "", req.Username)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"message":       "Login successful",
		"admin":         info,
		"access_token":  access,
		"refresh_token": uuid.New().String(), // issued but unusable: the operator has no refresh endpoint
		"token_type":    "bearer",
		"expires_in":    int(defaultAccessTTL.Seconds()),
	})
}

// handleDashboard is a stand-in authenticated operator endpoint for gateway
// tests.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(r, "operator", "") {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
