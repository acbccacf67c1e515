// Package adminauth implements the operator's four-step progressive login:
// identity, password, PIN, security code. Step policy is server-driven — the
// client learns after the password step which factors are configured and
// skips the ones that are not, and it surfaces lock/throttle messages
// verbatim without applying any cooldown of its own.
package adminauth

import (
	"context"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/omborsaas/go-session-client/credstore"
	"github.com/omborsaas/go-session-client/gateway"
	interrors "github.com/omborsaas/go-session-client/internal/errors"
	"github.com/omborsaas/go-session-client/session"
)

// Step positions in the login flow.
const (
	StepIdentity     = 1
	StepPassword     = 2
	StepPIN          = 3
	StepSecurityCode = 4
)

const minPINLength = 4

// Flow is one operator login attempt. It is safe for concurrent use, though
// the protocol itself is strictly sequential: a step's call is never issued
// before the previous step's success has been observed.
type Flow struct {
	gw    *gateway.Gateway
	store *credstore.Store
	log   zerolog.Logger

	mu        sync.Mutex
	step      int
	username  string
	password  string
	pin       string
	code      string
	hasPIN    bool
	hasCode   bool
	gen       uint64 // bumped by Back/Abandon; in-flight calls for an older gen are discarded
	abandoned bool
	done      bool
}

// Option configures a Flow.
type Option func(*Flow)

// WithLogger sets the flow logger.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Flow) { f.log = log }
}

// NewFlow starts a fresh login attempt at the identity step.
func NewFlow(gw *gateway.Gateway, store *credstore.Store, options ...Option) (*Flow, error) {
	if gw == nil {
		return nil, errors.New("[adminauth.NewFlow] gateway is required")
	}
	if store == nil {
		return nil, errors.New("[adminauth.NewFlow] store is required")
	}
	f := &Flow{gw: gw, store: store, log: zerolog.Nop(), step: StepIdentity}
	for _, opt := range options {
		opt(f)
	}
	return f, nil
}

// Step returns the flow's current position.
func (f *Flow) Step() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Done reports whether the flow has finished with an established operator
// session.
func (f *Flow) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// RequiresPIN reports whether the server declared a PIN factor for this
// operator. Only meaningful after the password step.
func (f *Flow) RequiresPIN() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasPIN
}

// RequiresSecurityCode reports whether the server declared a security code
// factor. Only meaningful after the password step.
func (f *Flow) RequiresSecurityCode() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasCode
}

type step1Request struct {
	Username string `json:"username"`
}

type step2Request struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type step2Response struct {
	Success bool `json:"success"`
	Step    int  `json:"step"`
	HasPIN  bool `json:"has_pin"`
	HasCode bool `json:"has_code"`
}

type step3Request struct {
	Username string `json:"username"`
	Password string `json:"password"`
	PIN      string `json:"pin"`
}

type step4Request struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	PIN          string `json:"pin"`
	SecurityCode string `json:"security_code"`
}

type step4Response struct {
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	Admin        session.AdminInfo `json:"admin"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
}

// SubmitIdentity runs step 1. On success the flow advances to the password
// step. A lock or throttle response surfaces as *LockError with the server's
// message verbatim; any other failure leaves the flow at step 1.
func (f *Flow) SubmitIdentity(ctx context.Context, username string) error {
	gen, err := f.enter(StepIdentity)
	if err != nil {
		return err
	}

	callErr := f.gw.JSON(ctx, gateway.Call{
		Method:    http.MethodPost,
		Path:      "super-admin/auth/verify-step1",
		Body:      step1Request{Username: username},
		Anonymous: true,
	}, nil)
	if err := mapStepError(callErr); err != nil {
		return errors.Wrap(err, "[Flow.SubmitIdentity]")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen || f.abandoned {
		return errors.Wrap(interrors.ErrFlowAbandoned, "[Flow.SubmitIdentity]")
	}
	f.username = username
	f.step = StepPassword
	return nil
}

// SubmitPassword runs step 2. The server's response declares which further
// factors are configured: with neither configured the flow finalizes
// immediately with placeholder values, with only a security code it jumps
// straight to step 4, otherwise it advances to the PIN step.
func (f *Flow) SubmitPassword(ctx context.Context, password string) error {
	gen, err := f.enter(StepPassword)
	if err != nil {
		return err
	}
	f.mu.Lock()
	username := f.username
	f.mu.Unlock()

	var out step2Response
	callErr := f.gw.JSON(ctx, gateway.Call{
		Method:    http.MethodPost,
		Path:      "super-admin/auth/verify-step2",
		Body:      step2Request{Username: username, Password: password},
		Anonymous: true,
	}, &out)
	if err := mapStepError(callErr); err != nil {
		return errors.Wrap(err, "[Flow.SubmitPassword]")
	}

	f.mu.Lock()
	if f.gen != gen || f.abandoned {
		f.mu.Unlock()
		return errors.Wrap(interrors.ErrFlowAbandoned, "[Flow.SubmitPassword]")
	}
	f.password = password
	f.hasPIN = out.HasPIN
	f.hasCode = out.HasCode
	switch {
	case out.HasPIN:
		f.step = StepPIN
	case out.HasCode:
		f.step = StepSecurityCode
	default:
		// Neither factor configured: finalize with placeholder values.
		f.mu.Unlock()
		return f.finalize(ctx, gen)
	}
	f.mu.Unlock()
	return nil
}

// SubmitPIN runs step 3. PINs shorter than the minimum are rejected locally
// without a server round trip. If no security code is configured the flow
// finalizes with an empty code placeholder.
func (f *Flow) SubmitPIN(ctx context.Context, pin string) error {
	gen, err := f.enter(StepPIN)
	if err != nil {
		return err
	}
	if len(pin) < minPINLength {
		return errors.Wrap(interrors.ErrPINTooShort, "[Flow.SubmitPIN]")
	}
	f.mu.Lock()
	username, password := f.username, f.password
	f.mu.Unlock()

	callErr := f.gw.JSON(ctx, gateway.Call{
		Method:    http.MethodPost,
		Path:      "super-admin/auth/verify-step3",
		Body:      step3Request{Username: username, Password: password, PIN: pin},
		Anonymous: true,
	}, nil)
	if err := mapStepError(callErr); err != nil {
		return errors.Wrap(err, "[Flow.SubmitPIN]")
	}

	f.mu.Lock()
	if f.gen != gen || f.abandoned {
		f.mu.Unlock()
		return errors.Wrap(interrors.ErrFlowAbandoned, "[Flow.SubmitPIN]")
	}
	f.pin = pin
	if !f.hasCode {
		f.mu.Unlock()
		return f.finalize(ctx, gen)
	}
	f.step = StepSecurityCode
	f.mu.Unlock()
	return nil
}

// SubmitSecurityCode runs step 4 and, on success, establishes the operator
// session.
func (f *Flow) SubmitSecurityCode(ctx context.Context, code string) error {
	gen, err := f.enter(StepSecurityCode)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.code = code
	f.mu.Unlock()
	return f.finalize(ctx, gen)
}

// finalize issues the step-4 verification with whatever factors were
// collected (placeholders for factors the server did not require) and
// installs the operator session. A flow abandoned while the call was in
// flight must not resurrect a stale session.
func (f *Flow) finalize(ctx context.Context, gen uint64) error {
	f.mu.Lock()
	req := step4Request{
		Username:     f.username,
		Password:     f.password,
		PIN:          f.pin,
		SecurityCode: f.code,
	}
	f.mu.Unlock()

	var out step4Response
	callErr := f.gw.JSON(ctx, gateway.Call{
		Method:    http.MethodPost,
		Path:      "super-admin/auth/verify-step4",
		Body:      req,
		Anonymous: true,
	}, &out)
	if err := mapStepError(callErr); err != nil {
		return errors.Wrap(err, "[Flow.finalize]")
	}

	f.mu.Lock()
	if f.gen != gen || f.abandoned {
		f.mu.Unlock()
		return errors.Wrap(interrors.ErrFlowAbandoned, "[Flow.finalize]")
	}
	f.done = true
	f.mu.Unlock()

	creds := session.Credentials{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
	if err := f.store.EstablishOperatorSession(out.Admin, creds); err != nil {
		return errors.Wrap(err, "[Flow.finalize] establish session")
	}
	f.log.Info().Str("admin", out.Admin.Username).Msg("operator login completed")
	return nil
}

// Back moves the flow one position backward, clearing only the inputs for
// the steps being re-entered. The step-1 identity survives any backward
// navigation.
func (f *Flow) Back() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	f.gen++
	switch f.step {
	case StepSecurityCode:
		f.code = ""
		if f.hasPIN {
			f.pin = ""
			f.step = StepPIN
		} else {
			f.password = ""
			f.step = StepPassword
		}
	case StepPIN:
		f.pin = ""
		f.password = ""
		f.step = StepPassword
	case StepPassword:
		f.password = ""
		f.step = StepIdentity
	}
}

// Abandon cancels the flow. Any in-flight step call's late success is
// discarded and no session is established.
func (f *Flow) Abandon() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	f.gen++
	f.abandoned = true
}

// enter validates that the flow is positioned at want and returns the
// current generation for post-call validation.
func (f *Flow) enter(want int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.abandoned {
		return 0, errors.Wrap(interrors.ErrFlowAbandoned, "[Flow.enter]")
	}
	if f.done {
		return 0, errors.New("[Flow.enter] flow already completed")
	}
	if f.step != want {
		return 0, errors.Wrapf(interrors.ErrWrongStep, "[Flow.enter] at step %d", f.step)
	}
	return f.gen, nil
}
