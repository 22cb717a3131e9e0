// Package repository содержит реализацию доступа к данным каталога в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrSlugTaken возвращается, если slug товара уже занят.
	ErrSlugTaken = errors.New("slug already taken")
	// ErrDiscountCodeTaken возвращается, если у продавца уже есть скидка с таким кодом.
	ErrDiscountCodeTaken = errors.New("discount code already taken")
)

const (
	txMaxRetries   = 3
	readMaxRetries = 3
	retryBaseDelay = 50 * time.Millisecond
)

// DBTX определяет общий интерфейс пула и транзакции.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries выполняет запросы поверх пула или транзакции.
type Queries struct {
	db         DBTX
	retryReads bool
}

// NewQueries оборачивает произвольный DBTX. Чтения не повторяются.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// PostgresRepository предоставляет доступ к хранилищу каталога в PostgreSQL.
type PostgresRepository struct {
	*Queries
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		Queries: &Queries{db: pool, retryReads: true},
		pool:    pool,
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Ping проверяет доступность базы.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// InTx выполняет fn в одной транзакции. Транзакция целиком повторяется, только
// если сервер сам откатил её из-за взаимоблокировки или конфликта сериализации.
// Ошибка на COMMIT без такого кода не повторяется: исход неизвестен.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(q *Queries) error) error {
	b := retry.WithMaxRetries(txMaxRetries, retry.NewExponential(retryBaseDelay))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := r.runTx(ctx, fn)
		if isTxAbort(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *PostgresRepository) runTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(&Queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// read повторяет идемпотентное чтение при временных сбоях соединения.
// Внутри транзакции повтор бессмысленен, поэтому он выключен.
func (q *Queries) read(ctx context.Context, fn func(ctx context.Context) error) error {
	if !q.retryReads {
		return fn(ctx)
	}

	b := retry.WithMaxRetries(readMaxRetries, retry.NewExponential(retryBaseDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && isConnectionError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isTxAbort(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return false
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Деньги хранятся в копейках, как целые числа.
func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.NewFromInt(c).Shift(-2)
}
