package repository

import (
	"context"
	"database/sql"

	"github.com/fieldops/resilience/internal/database"
)

func databaseTx(db *sql.DB, fn func(ctx context.Context) error) error {
	return database.NewTxManager(db).WithTx(context.Background(), fn)
}
