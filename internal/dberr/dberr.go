// Package dberr classifies database errors across the three engines the
// scheduler has run on. The old migration scripts matched on substrings of
// the driver message to decide whether a failed ALTER meant "column already
// exists"; this package keeps that behavior but checks the typed driver
// errors first.
package dberr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

type Kind int

const (
	Unknown Kind = iota
	DuplicateColumn
	DuplicateTable
	UndefinedColumn
	UndefinedTable
)

func (k Kind) String() string {
	switch k {
	case DuplicateColumn:
		return "duplicate column"
	case DuplicateTable:
		return "duplicate table"
	case UndefinedColumn:
		return "undefined column"
	case UndefinedTable:
		return "undefined table"
	default:
		return "unknown"
	}
}

// Error pairs a driver error with its classification. Wrap only produces
// one for classified errors, so errors.As doubles as an "is this a known
// schema condition" test.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap attaches the classification to err. Unclassifiable errors pass
// through untouched.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	kind := Classify(err)
	if kind == Unknown {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// Classify maps a driver error to a Kind. Typed errors from pgx and
// go-sql-driver are authoritative; everything else, sqlite included, falls
// back to the message heuristics the ad-hoc scripts relied on.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}

	var alreadyClassified *Error
	if errors.As(err, &alreadyClassified) {
		return alreadyClassified.Kind
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42701":
			return DuplicateColumn
		case "42P07":
			return DuplicateTable
		case "42703":
			return UndefinedColumn
		case "42P01":
			return UndefinedTable
		}
		return Unknown
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1060:
			return DuplicateColumn
		case 1050:
			return DuplicateTable
		case 1054:
			return UndefinedColumn
		case 1146:
			return UndefinedTable
		}
		return Unknown
	}

	return classifyMessage(err.Error())
}

func classifyMessage(msg string) Kind {
	msg = strings.ToLower(msg)

	switch {
	case strings.Contains(msg, "duplicate column"):
		return DuplicateColumn
	case strings.Contains(msg, "already exists"):
		// postgres phrases a duplicate column as
		// `column "x" of relation "t" already exists`.
		if strings.Contains(msg, "column") {
			return DuplicateColumn
		}
		return DuplicateTable
	case strings.Contains(msg, "no such column"),
		strings.Contains(msg, "unknown column"):
		return UndefinedColumn
	case strings.Contains(msg, "no such table"),
		strings.Contains(msg, "doesn't exist"):
		return UndefinedTable
	case strings.Contains(msg, "does not exist"):
		if strings.Contains(msg, "column") {
			return UndefinedColumn
		}
		return UndefinedTable
	}

	return Unknown
}

func IsDuplicateColumn(err error) bool {
	return Classify(err) == DuplicateColumn
}

func IsDuplicateTable(err error) bool {
	return Classify(err) == DuplicateTable
}

func IsUndefinedColumn(err error) bool {
	return Classify(err) == UndefinedColumn
}

func IsUndefinedTable(err error) bool {
	return Classify(err) == UndefinedTable
}
