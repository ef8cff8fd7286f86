package db

import (
	"context"

	"gorm.io/gorm"
)

type txContextKey struct{}

// Transactor runs a callback inside one database transaction. Repositories
// called with the callback's context join that transaction.
type Transactor struct {
	database *gorm.DB
}

func NewTransactor(database *gorm.DB) *Transactor {
	return &Transactor{database: database}
}

func (transactor *Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txContextKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return transactor.database.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	})
}

// conn returns the transaction bound to ctx, or the base handle.
func conn(ctx context.Context, database *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txContextKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return database.WithContext(ctx)
}
