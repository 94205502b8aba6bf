package integrity

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Mode selects what happens when a supplied hash does not match.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeLog     Mode = "log"
	ModeEnforce Mode = "enforce"
)

var (
	ErrHashMissing  = errors.New("integrity hash missing")
	ErrHashMismatch = errors.New("integrity hash mismatch")
)

// ParseMode accepts off, log or enforce. An empty value means log.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLog:
		return ModeLog, nil
	case ModeOff:
		return ModeOff, nil
	case ModeEnforce:
		return ModeEnforce, nil
	default:
		return "", fmt.Errorf("integrity: unknown mode %q", s)
	}
}

// MismatchRecorder is notified about every mismatch regardless of mode.
type MismatchRecorder interface {
	IntegrityMismatch(mode string)
}

// Authenticator verifies operator supplied hashes.
type Authenticator struct {
	mode     Mode
	logger   *zap.Logger
	recorder MismatchRecorder
}

// NewAuthenticator builds an Authenticator. recorder may be nil.
func NewAuthenticator(mode Mode, recorder MismatchRecorder, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{mode: mode, logger: logger, recorder: recorder}
}

// Mode reports the active policy.
func (a *Authenticator) Mode() Mode {
	return a.mode
}

// Check compares supplied against the hash of f. It only returns an error in enforce mode.
func (a *Authenticator) Check(f Fields, supplied string) error {
	if a.mode == ModeOff {
		return nil
	}

	supplied = strings.ToLower(strings.TrimSpace(supplied))
	if supplied == "" {
		if a.mode == ModeEnforce {
			return ErrHashMissing
		}
		return nil
	}

	expected := Hash(f)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1 {
		return nil
	}

	if a.recorder != nil {
		a.recorder.IntegrityMismatch(string(a.mode))
	}
	a.logger.Warn("integrity hash mismatch",
		zap.String("station_id", f.StationID),
		zap.String("canonical", Canonicalize(f)),
		zap.String("mode", string(a.mode)),
	)
	if a.mode == ModeEnforce {
		return ErrHashMismatch
	}
	return nil
}
