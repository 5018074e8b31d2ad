// Package bootstrap provisions the singleton OAuth client on first start.
package bootstrap

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/LearnWiseAI/moodle-local-learnwise/internal/domain"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/repository"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/secret"
)

const (
	clientIDLength     = 15
	clientSecretLength = 100
)

const alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// EnsureClient registers the install-time client creation hook.
func EnsureClient(lc fx.Lifecycle, store repository.Store, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_, err := ensureClient(ctx, store, logger)
			return err
		},
	})
}

// ensureClient creates the singleton client if none exists. The plaintext
// secret is logged exactly once, at creation; only its hash is stored.
func ensureClient(ctx context.Context, store repository.Store, logger *zap.Logger) (domain.Client, error) {
	existing, err := store.FirstClient(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Client{}, fmt.Errorf("bootstrap client lookup: %w", err)
	}

	uniqID, err := randomAlnum(clientIDLength)
	if err != nil {
		return domain.Client{}, fmt.Errorf("bootstrap client id: %w", err)
	}
	plainSecret, err := randomAlnum(clientSecretLength)
	if err != nil {
		return domain.Client{}, fmt.Errorf("bootstrap client secret: %w", err)
	}
	hashed, err := secret.Hash(plainSecret)
	if err != nil {
		return domain.Client{}, fmt.Errorf("bootstrap hash secret: %w", err)
	}

	created, err := store.CreateClient(ctx, domain.Client{UniqID: uniqID, SecretHash: hashed})
	if err != nil {
		return domain.Client{}, fmt.Errorf("bootstrap create client: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap oauth client created",
			zap.String("client_id", created.UniqID),
			zap.String("client_secret", plainSecret),
		)
	}
	return created, nil
}

func randomAlnum(n int) (string, error) {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(alnum)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alnum[idx.Int64()]
	}
	return string(buf), nil
}
