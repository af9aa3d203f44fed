package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultTTL = 2 * time.Hour

// Service is the server side of the directory. It implements Directory
// directly so tests and single-process setups can skip HTTP.
type Service struct {
	store Store
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time
	gen   func(n int) (string, error)
}

var _ Directory = (*Service)(nil)

func NewService(store Store, ttl time.Duration, log *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store: store,
		ttl:   ttl,
		log:   log.Named("directory"),
		now:   time.Now,
		gen:   GenerateCode,
	}
}

// Create registers peerID under a new code. Ten six-character codes are
// tried before falling back to a longer one.
func (s *Service) Create(ctx context.Context, peerID string) (Registration, error) {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return Registration{}, &Error{Op: "create", Err: ErrMissingPeer}
	}

	now := s.now()
	for attempt := 0; attempt <= codeAttempts; attempt++ {
		n := CodeLength
		if attempt == codeAttempts {
			n = FallbackCodeLength
		}
		code, err := s.gen(n)
		if err != nil {
			return Registration{}, &Error{Op: "create", Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
		}

		reg := Registration{Code: code, PeerID: peerID, ExpiresAt: now.Add(s.ttl)}
		err = s.store.Insert(ctx, reg, now)
		switch {
		case err == nil:
			s.log.Info("party code created", zap.String("code", code), zap.String("peer", peerID))
			return reg, nil
		case errors.Is(err, ErrCodeTaken):
			s.log.Debug("collision on code, regenerating", zap.String("code", code))
		default:
			return Registration{}, &Error{Op: "create", Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
		}
	}
	return Registration{}, &Error{Op: "create", Err: ErrCodeTaken}
}

// Lookup purges expired codes first, so a stale code is never resolved.
func (s *Service) Lookup(ctx context.Context, code string) (string, error) {
	code = NormalizeCode(code)
	if code == "" {
		return "", &Error{Op: "lookup", Err: ErrNotFound}
	}
	now := s.now()
	if _, err := s.store.DeleteExpired(ctx, now); err != nil {
		return "", &Error{Op: "lookup", Code: code, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}

	reg, err := s.store.Get(ctx, code, now)
	switch {
	case errors.Is(err, ErrNotFound):
		return "", &Error{Op: "lookup", Code: code, Err: ErrNotFound}
	case err != nil:
		return "", &Error{Op: "lookup", Code: code, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
	return reg.PeerID, nil
}

func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now())
}

// RunCleanup purges expired codes every interval until ctx is done.
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := s.Cleanup(ctx)
			if err != nil {
				s.log.Warn("cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("expired party codes removed", zap.Int64("count", n))
			}
		}
	}
}
