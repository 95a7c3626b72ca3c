package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownTable          = errors.New("unknown table")
	ErrCatalogUnavailable    = errors.New("catalog unavailable")
	ErrStatisticsUnavailable = errors.New("statistics unavailable")
	ErrUnclassified          = errors.New("join could not be classified")
	ErrNotFound              = errors.New("not found")
	ErrEmptyQuery            = errors.New("empty query")
	ErrNotAllowed            = errors.New("only SELECT queries are allowed")
	ErrMultiStatement        = errors.New("multiple statements are not allowed")
	ErrParseFailed           = errors.New("failed to parse SQL")
)

// UnknownTableError names every table that was missing from the catalog.
type UnknownTableError struct {
	Tables []string
}

func (e *UnknownTableError) Error() string {
	quoted := make([]string, len(e.Tables))
	for i, t := range e.Tables {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	if len(quoted) == 1 {
		return fmt.Sprintf("table %s does not exist in this database", quoted[0])
	}
	return fmt.Sprintf("tables %s do not exist in this database", strings.Join(quoted, ", "))
}

func (e *UnknownTableError) Unwrap() error {
	return ErrUnknownTable
}
