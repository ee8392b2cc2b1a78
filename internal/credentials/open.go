package credentials

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fruitsalade/filemanager/internal/config"
	"github.com/fruitsalade/filemanager/internal/logging"
	"github.com/fruitsalade/filemanager/internal/sandbox"
)

// Open builds the Store selected by cfg: backend, hasher and site layout.
// The configured hasher signs new records; records written by the other
// scheme still verify.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	primary, err := NewHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	var hasher Hasher
	switch primary.(type) {
	case BcryptHasher:
		hasher = WithFallback(primary, DefaultArgon2())
	default:
		hasher = WithFallback(primary, BcryptHasher{Cost: cfg.BcryptCost})
	}

	sites, err := sandbox.NewSites(cfg.SiteDir)
	if err != nil {
		return nil, fmt.Errorf("site dir: %w", err)
	}

	var backend Backend
	switch cfg.CredentialBackend {
	case "postgres":
		backend, err = NewPostgresBackend(ctx, cfg.DatabaseURL)
	default:
		backend, err = NewFileBackend(cfg.UsersDir)
	}
	if err != nil {
		return nil, fmt.Errorf("credential backend %s: %w", cfg.CredentialBackend, err)
	}

	logging.Info("credential store ready",
		zap.String("backend", backend.Type()),
		zap.String("hasher", cfg.PasswordHasher),
		zap.String("site_dir", sites.Base()))
	return NewStore(backend, hasher, sites), nil
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }
