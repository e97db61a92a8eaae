package token

import (
	"context"
	"time"

	"github.com/tzhukov/pollprobe/logger"
)

// Status classifies what inspection found.
type Status string

const (
	StatusMissing    Status = "missing"
	StatusInvalid    Status = "invalid"
	StatusNoExpiry   Status = "no_expiry"
	StatusShortLived Status = "short_lived"
	StatusOK         Status = "ok"
)

// Inspection is the outcome of looking at a bearer token's claims.
type Inspection struct {
	Status Status
	Claims *Claims
	// TTL is ExpiresAt minus the run start; nil without an exp claim.
	TTL *time.Duration
	Err error
}

// Inspect logs what the token says about its own lifetime relative to a run
// that starts at start and lasts up to maxDuration. It never fails.
func Inspect(ctx context.Context, p ClaimsParser, raw string, start time.Time, maxDuration time.Duration) Inspection {
	if raw == "" {
		logger.Warn("request carries no access token")
		return Inspection{Status: StatusMissing}
	}
	claims, err := p.Parse(ctx, raw)
	if err != nil {
		logger.Error("failed to decode token", err)
		return Inspection{Status: StatusInvalid, Err: err}
	}
	if claims.ExpiresAt == nil {
		logger.Warn("token has no exp claim")
		return Inspection{Status: StatusNoExpiry, Claims: claims}
	}

	ttl := claims.ExpiresAt.Sub(start)
	logger.Info("token expiration time", logger.FieldKV("exp", claims.ExpiresAt.Unix()))
	logger.Info("token time to live", logger.FieldKV("ttl_seconds", ttl.Seconds()))
	in := Inspection{Status: StatusOK, Claims: claims, TTL: &ttl}
	if ttl < maxDuration {
		logger.Warn("token expires before the target duration",
			logger.FieldKV("ttl_seconds", ttl.Seconds()),
			logger.FieldKV("target_seconds", maxDuration.Seconds()))
		in.Status = StatusShortLived
	}
	return in
}
