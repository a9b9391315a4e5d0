package database

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by repository lookups that found no row.
var ErrNotFound = errors.New("not found")

func translateNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
