package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound    = errors.New("repositories: not found")
	ErrDuplicate   = errors.New("repositories: duplicate")
	ErrStaleStatus = errors.New("repositories: status changed concurrently")
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
