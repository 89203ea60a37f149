package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures an Agent.
type Options struct {
	Transport     Transport
	Fingerprinter *Fingerprinter
	// CachePath defaults to DefaultCachePath.
	CachePath  string
	Policy     Policy
	AppVersion string
	Now        func() time.Time
	Logger     zerolog.Logger
}

// Agent ties the device identity, the local cache and the server together.
type Agent struct {
	transport     Transport
	fingerprinter *Fingerprinter
	cachePath     string
	policy        Policy
	appVersion    string
	now           func() time.Time
	logger        zerolog.Logger

	mu       sync.Mutex
	deviceID string
	cache    *Cache
}

// New creates an Agent.
func New(opts Options) (*Agent, error) {
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Fingerprinter == nil {
		opts.Fingerprinter = NewFingerprinter()
	}
	if opts.CachePath == "" {
		path, err := DefaultCachePath()
		if err != nil {
			return nil, err
		}
		opts.CachePath = path
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Agent{
		transport:     opts.Transport,
		fingerprinter: opts.Fingerprinter,
		cachePath:     opts.CachePath,
		policy:        opts.Policy,
		appVersion:    opts.AppVersion,
		now:           opts.Now,
		logger:        opts.Logger.With().Str("component", "license_agent").Logger(),
	}, nil
}

// Policy returns the offline tolerances in effect.
func (a *Agent) Policy() Policy {
	return a.policy
}

// DeviceID returns this installation's device identifier.
func (a *Agent) DeviceID(ctx context.Context) (string, error) {
	id, _, err := a.device(ctx)
	return id, err
}

func (a *Agent) device(ctx context.Context) (string, *Cache, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cache != nil {
		return a.deviceID, a.cache, nil
	}

	id, err := a.fingerprinter.DeviceID(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("fingerprint device: %w", err)
	}
	cache, err := NewCache(a.cachePath, id)
	if err != nil {
		return "", nil, err
	}
	a.deviceID = id
	a.cache = cache
	return id, cache, nil
}

// load returns the cached record, treating a corrupt cache as absent.
func (a *Agent) load(cache *Cache) (*Record, error) {
	rec, err := cache.Load()
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, ErrNoCache):
		return nil, nil
	case errors.Is(err, ErrCorruptCache):
		a.logger.Warn().Err(err).Msg("ignoring unreadable license cache")
		return nil, nil
	default:
		return nil, err
	}
}

// ActivationError reports a server refusal to activate.
type ActivationError struct {
	Reason  Reason
	Message string
}

func (e *ActivationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("activation refused (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("activation refused (%s)", e.Reason)
}

// Activate claims a seat with licenseKey and persists the resulting record.
// token is the bearer credential kept in the cache for later calls.
func (a *Agent) Activate(ctx context.Context, token, licenseKey, label string) (*Record, error) {
	deviceID, cache, err := a.device(ctx)
	if err != nil {
		return nil, err
	}

	res, err := a.transport.Activate(ctx, token, ActivateRequest{
		LicenseKey:  licenseKey,
		DeviceID:    deviceID,
		DeviceLabel: label,
		AppVersion:  a.appVersion,
	})
	if err != nil {
		return nil, err
	}
	if !res.Activated {
		reason := res.Reason
		if reason == ReasonNone {
			reason = ReasonValidationFailed
		}
		return nil, &ActivationError{Reason: reason, Message: res.Message}
	}

	now := a.now()
	rec := &Record{
		DeviceID:      deviceID,
		ActivationID:  res.ActivationID,
		LicenseID:     res.LicenseID,
		PlanCode:      res.PlanCode,
		ExpiresAt:     res.ExpiresAt,
		ActivatedAt:   now,
		LastHeartbeat: now,
		Token:         token,
	}
	if err := cache.Save(rec); err != nil {
		return nil, fmt.Errorf("save license cache: %w", err)
	}

	a.logger.Info().
		Str("license_id", rec.LicenseID).
		Str("plan", rec.PlanCode).
		Msg("device activated")
	return rec, nil
}

// Status returns the cached record and its local state without contacting
// the server.
func (a *Agent) Status(ctx context.Context) (*Record, State, error) {
	_, cache, err := a.device(ctx)
	if err != nil {
		return nil, State{}, err
	}
	rec, err := a.load(cache)
	if err != nil {
		return nil, State{}, err
	}
	return rec, Judge(rec, a.now(), a.policy), nil
}

// StartupResult is the outcome of ValidateOnStartup.
type StartupResult struct {
	Valid           bool
	Phase           Phase
	Reason          Reason
	NeedsActivation bool
	// Contacted is true when the server was asked.
	Contacted bool
}

// ValidateOnStartup decides whether the application may start. The server is
// contacted only when the device is locked by a previous rejection or the
// grace window since the last heartbeat has elapsed.
func (a *Agent) ValidateOnStartup(ctx context.Context) (StartupResult, error) {
	_, cache, err := a.device(ctx)
	if err != nil {
		return StartupResult{}, err
	}
	rec, err := a.load(cache)
	if err != nil {
		return StartupResult{}, err
	}
	if rec == nil {
		return StartupResult{Phase: PhaseUnactivated, Reason: ReasonNotActivated, NeedsActivation: true}, nil
	}

	now := a.now()
	if rec.ExpiresAt != nil && !now.Before(*rec.ExpiresAt) {
		return StartupResult{Phase: PhaseLocked, Reason: ReasonExpired}, nil
	}

	needsServer := rec.LockedReason != ReasonNone || now.Sub(rec.LastHeartbeat) > a.policy.GraceWindow
	if !needsServer {
		state := Judge(rec, now, a.policy)
		return StartupResult{Valid: state.Usable(), Phase: state.Phase, Reason: state.Reason}, nil
	}

	res, err := a.transport.Validate(ctx, rec.Token, rec.DeviceID)
	if errors.Is(err, ErrUnauthorized) {
		res, err = &CheckResult{Reason: ReasonValidationFailed}, nil
	}
	if err != nil {
		a.logger.Warn().Err(err).Msg("startup validation failed")
		return StartupResult{Phase: PhaseLocked, Reason: ReasonNetworkError, Contacted: true}, nil
	}

	if !res.Valid {
		reason := res.Reason
		if reason == ReasonNone {
			reason = ReasonValidationFailed
		}
		rec.LockedReason = reason
		if err := cache.Save(rec); err != nil {
			return StartupResult{}, fmt.Errorf("save license cache: %w", err)
		}
		a.logger.Warn().Str("reason", string(reason)).Msg("server rejected device on startup")
		return StartupResult{Phase: PhaseLocked, Reason: reason, NeedsActivation: reason == ReasonNotActivated, Contacted: true}, nil
	}

	a.refresh(rec, res.ExpiresAt, now)
	if err := cache.Save(rec); err != nil {
		return StartupResult{}, fmt.Errorf("save license cache: %w", err)
	}
	return StartupResult{Valid: true, Phase: PhaseValid, Contacted: true}, nil
}

func (a *Agent) refresh(rec *Record, expiresAt *time.Time, now time.Time) {
	rec.LastHeartbeat = now
	rec.LockedReason = ReasonNone
	rec.ExpiresAt = expiresAt
}

// Deactivate releases the seat on the server and removes the local cache.
// It reports whether the server had an active seat for this device.
func (a *Agent) Deactivate(ctx context.Context) (bool, error) {
	_, cache, err := a.device(ctx)
	if err != nil {
		return false, err
	}
	rec, err := a.load(cache)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, ErrNoCache
	}

	released, err := a.transport.Deactivate(ctx, rec.Token, rec.DeviceID)
	if err != nil {
		return false, err
	}
	if err := cache.Remove(); err != nil {
		return released, err
	}

	a.logger.Info().Bool("released", released).Msg("device deactivated")
	return released, nil
}

// BeatResult is the outcome of one heartbeat.
type BeatResult struct {
	// Skipped is true when another beat was in progress or nothing is cached.
	Skipped bool
	Valid   bool
	Reason  Reason
	// Locked is true when the device must show the lock screen.
	Locked bool
}

// heartbeat performs one heartbeat against the server and updates the cache.
func (a *Agent) heartbeat(ctx context.Context) (BeatResult, error) {
	_, cache, err := a.device(ctx)
	if err != nil {
		return BeatResult{}, err
	}
	rec, err := a.load(cache)
	if err != nil {
		return BeatResult{}, err
	}
	if rec == nil {
		return BeatResult{Skipped: true, Reason: ReasonNotActivated, Locked: true}, nil
	}

	res, err := a.transport.Heartbeat(ctx, rec.Token, rec.DeviceID, a.appVersion)
	now := a.now()
	// A rejected credential is an authoritative answer, not an outage.
	if errors.Is(err, ErrUnauthorized) {
		res, err = &CheckResult{Reason: ReasonValidationFailed}, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return BeatResult{}, ctx.Err()
		}
		state := Judge(rec, now, a.policy)
		a.logger.Warn().Err(err).Str("phase", string(state.Phase)).Msg("heartbeat failed")
		return BeatResult{Reason: ReasonNetworkError, Locked: state.Phase == PhaseLocked}, nil
	}

	if !res.Valid {
		reason := res.Reason
		if reason == ReasonNone {
			reason = ReasonValidationFailed
		}
		rec.LockedReason = reason
		if err := cache.Save(rec); err != nil {
			return BeatResult{}, fmt.Errorf("save license cache: %w", err)
		}
		a.logger.Warn().Str("reason", string(reason)).Msg("server rejected heartbeat")
		return BeatResult{Reason: reason, Locked: true}, nil
	}

	a.refresh(rec, res.ExpiresAt, now)
	if err := cache.Save(rec); err != nil {
		return BeatResult{}, fmt.Errorf("save license cache: %w", err)
	}
	return BeatResult{Valid: true}, nil
}
