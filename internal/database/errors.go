package database

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATEコード
const (
	codeInsufficientPrivilege = "42501"
	codeUniqueViolation       = "23505"
	codeForeignKeyViolation   = "23503"
)

// IsPermissionDenied は権限不足（ロール・RLS設定の誤り）によるエラーかどうかを判定する。
func IsPermissionDenied(err error) bool {
	return hasCode(err, codeInsufficientPrivilege)
}

// IsUniqueViolation は一意制約違反かどうかを判定する。
func IsUniqueViolation(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

// IsForeignKeyViolation は外部キー制約違反かどうかを判定する。
func IsForeignKeyViolation(err error) bool {
	return hasCode(err, codeForeignKeyViolation)
}

func hasCode(err error, code string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}
