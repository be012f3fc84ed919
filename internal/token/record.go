package token

import (
	"encoding/json"
	"time"
)

const (
	// RenewalMargin is how long before expiry a token counts as near expiry and gets renewed.
	RenewalMargin = 300 * time.Second
	// DefaultLifetime applies when neither a lifetime nor an absolute expiry is known.
	DefaultLifetime = 3600 * time.Second
)

// Record is an immutable snapshot of an access/refresh token pair.
//
// A Record with a non-empty Error is an error sentinel: it never carries tokens and is never a usable session.
type Record struct {
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	ExpiresIn    time.Duration
	Expiry       time.Time
	Error        string
}

// New builds a record issued now. A zero expiresIn and zero expiry fall back to [DefaultLifetime].
func New(accessToken, refreshToken string, expiresIn time.Duration, expiry time.Time) Record {
	return Record{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		IssuedAt:     time.Now(),
		ExpiresIn:    expiresIn,
		Expiry:       expiry,
	}
}

// NewError builds an error sentinel.
func NewError(message string) Record {
	if message == "" {
		message = "unknown error"
	}
	return Record{IssuedAt: time.Now(), Error: message}
}

// IsError reports whether r is an error sentinel.
func (r Record) IsError() bool {
	return r.Error != ""
}

// ExpiresAt returns the absolute expiry, preferring an explicit Expiry over IssuedAt+ExpiresIn.
func (r Record) ExpiresAt() time.Time {
	if !r.Expiry.IsZero() {
		return r.Expiry
	}
	lifetime := r.ExpiresIn
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return r.IssuedAt.Add(lifetime)
}

// IsValidAt reports whether r is a usable token at now.
func (r Record) IsValidAt(now time.Time) bool {
	if r.IsError() {
		return false
	}
	return r.ExpiresAt().After(now)
}

// IsNearExpiryAt reports whether r is valid but within [RenewalMargin] of expiring.
func (r Record) IsNearExpiryAt(now time.Time) bool {
	return r.IsValidAt(now) && r.ExpiresAt().Sub(now) <= RenewalMargin
}

// RemainingAt returns the lifetime left at now. Never negative.
func (r Record) RemainingAt(now time.Time) time.Duration {
	if !r.IsValidAt(now) {
		return 0
	}
	return r.ExpiresAt().Sub(now)
}

// RenewalDelayAt is how long to wait from now before renewing. Zero means renew immediately.
func (r Record) RenewalDelayAt(now time.Time) time.Duration {
	delay := r.RemainingAt(now) - RenewalMargin
	if delay < 0 {
		return 0
	}
	return delay
}

func (r Record) IsValid() bool { return r.IsValidAt(time.Now()) }
func (r Record) IsNearExpiry() bool { return r.IsNearExpiryAt(time.Now()) }
func (r Record) Remaining() time.Duration { return r.RemainingAt(time.Now()) }
func (r Record) RenewalDelay() time.Duration { return r.RenewalDelayAt(time.Now()) }
func (r Record) HasRefreshToken() bool { return r.RefreshToken != "" }
func (r Record) WithExpiry(t time.Time) Record { r.Expiry = t; return r }

// persisted is the stored JSON form; derived fields are never written.
type persisted struct {
	AccessToken    string     `json:"access_token,omitempty"`
	RefreshToken   string     `json:"refresh_token,omitempty"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresIn      *int64     `json:"expires_in,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	Error          string     `json:"error,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	p := persisted{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		IssuedAt:     r.IssuedAt,
		Error:        r.Error,
	}
	if r.ExpiresIn > 0 {
		secs := int64(r.ExpiresIn / time.Second)
		p.ExpiresIn = &secs
	}
	if !r.Expiry.IsZero() {
		expiry := r.Expiry
		p.ExpirationDate = &expiry
	}
	return json.Marshal(p)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	*r = Record{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		IssuedAt:     p.IssuedAt,
		Error:        p.Error,
	}
	if r.IssuedAt.IsZero() {
		r.IssuedAt = time.Now()
	}
	if p.ExpiresIn != nil {
		r.ExpiresIn = time.Duration(*p.ExpiresIn) * time.Second
	}
	if p.ExpirationDate != nil {
		r.Expiry = *p.ExpirationDate
	}
	return nil
}
