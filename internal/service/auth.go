package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/expertloop/expertloop/internal/domain"
	"github.com/expertloop/expertloop/internal/domain/expert"
	"github.com/expertloop/expertloop/internal/port/database"
)

// API keys look like "elk_<expert id>_<secret>". The embedded id makes
// verification a single store lookup plus one bcrypt compare.
const keyPrefix = "elk"

var ErrInvalidAPIKey = errors.New("invalid API key")

// AuthService mints and verifies expert API keys and manages the
// expert registry.
type AuthService struct {
	store      database.Store
	bcryptCost int
	log        *slog.Logger
	now        func() time.Time
}

func NewAuthService(store database.Store, bcryptCost int, log *slog.Logger) *AuthService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{store: store, bcryptCost: bcryptCost, log: log, now: time.Now}
}

// CreateExpert registers an expert and returns the account together
// with its plaintext API key. The key is shown exactly once; only the
// bcrypt hash is stored.
func (s *AuthService) CreateExpert(ctx context.Context, req expert.CreateRequest) (*expert.Expert, string, error) {
	if err := req.Validate(); err != nil {
		return nil, "", err
	}

	id := uuid.NewString()
	secret, err := randomSecret()
	if err != nil {
		return nil, "", err
	}
	key := fmt.Sprintf("%s_%s_%s", keyPrefix, id, secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash key: %w", err)
	}

	now := s.now()
	exp := &expert.Expert{
		ID:         id,
		Name:       req.Name,
		Tier:       req.Tier,
		ChannelID:  req.ChannelID,
		APIKeyHash: string(hash),
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateExpert(ctx, exp); err != nil {
		return nil, "", err
	}

	s.log.Info("expert registered", "expert_id", id, "tier", req.Tier)
	return exp, key, nil
}

// VerifyAPIKey resolves an API key to an enabled expert account.
func (s *AuthService) VerifyAPIKey(ctx context.Context, key string) (*expert.Expert, error) {
	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 || parts[0] != keyPrefix {
		return nil, ErrInvalidAPIKey
	}
	id, secret := parts[1], parts[2]

	exp, err := s.store.GetExpert(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	if !exp.Enabled {
		return nil, ErrInvalidAPIKey
	}
	if bcrypt.CompareHashAndPassword([]byte(exp.APIKeyHash), []byte(secret)) != nil {
		return nil, ErrInvalidAPIKey
	}
	return exp, nil
}

// SetExpertEnabled flips the account's enabled flag.
func (s *AuthService) SetExpertEnabled(ctx context.Context, expertID string, enabled bool) error {
	exp, err := s.store.GetExpert(ctx, expertID)
	if err != nil {
		return err
	}
	exp.Enabled = enabled
	exp.UpdatedAt = s.now()
	return s.store.UpdateExpert(ctx, exp)
}

// ListExperts returns all registered experts.
func (s *AuthService) ListExperts(ctx context.Context) ([]expert.Expert, error) {
	return s.store.ListExperts(ctx)
}

func randomSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
