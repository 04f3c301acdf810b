package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	mysqlDuplicateEntry  = 1062
	pgUniqueViolation    = "23505"
	mysqlDuplicateKeyTag = "for key '"
)

// UniqueViolation reports whether err is a unique index violation raised by
// the database, and the name of the violated index when the driver exposes it.
func UniqueViolation(err error) (index string, ok bool) {
	if err == nil {
		return "", false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return mysqlIndexName(myErr.Message), true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return "", true
	}
	return "", false
}

// mysqlIndexName extracts the key from "Duplicate entry 'x' for key 'table.idx'".
// MySQL 8 prefixes the key with the table name, older servers do not.
func mysqlIndexName(msg string) string {
	i := strings.LastIndex(msg, mysqlDuplicateKeyTag)
	if i < 0 {
		return ""
	}
	key := strings.TrimSuffix(msg[i+len(mysqlDuplicateKeyTag):], "'")
	if dot := strings.LastIndex(key, "."); dot >= 0 {
		key = key[dot+1:]
	}
	return key
}
