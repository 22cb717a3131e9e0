package service

import (
	"context"

	"github.com/mmeshcher/marketplace-catalog/internal/repository"
)

type postgresStore struct {
	*repository.PostgresRepository
}

// NewPostgresStore адаптирует репозиторий PostgreSQL к Store.
func NewPostgresStore(repo *repository.PostgresRepository) Store {
	return postgresStore{PostgresRepository: repo}
}

func (s postgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	return s.PostgresRepository.InTx(ctx, func(q *repository.Queries) error {
		return fn(q)
	})
}
