package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shestoi/backoffice/internal/repository"
)

// querier общий интерфейс pgxpool.Pool и pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository реализует repository.TxManager используя PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт новый PostgreSQL репозиторий
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool: pool,
	}
}

// WithinTx выполняет fn в транзакции: commit при nil, rollback при ошибке или панике
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	// Начинаем транзакцию
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// Гарантируем откат транзакции в случае ошибки
	defer tx.Rollback(ctx)

	if err := fn(ctx, &store{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// View выполняет fn поверх пула без транзакции (только чтение)
func (r *Repository) View(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	return fn(ctx, &store{q: r.pool})
}

// store реализует repository.Store поверх querier
type store struct {
	q querier
}

// mapErr переводит ошибки pgx в ошибки repository
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return repository.ErrAlreadyExists
		case "23503": // foreign_key_violation: ссылка на несуществующую запись
			return repository.ErrNotFound
		case "22P02": // invalid_text_representation: id не является UUID
			return repository.ErrNotFound
		}
	}
	return err
}

// affected возвращает ErrNotFound, если команда не затронула ни одной строки
func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
