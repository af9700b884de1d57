package sqldb

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateEntry 是 MySQL 主键或唯一索引冲突的错误号。
const mysqlDuplicateEntry = 1062

// IsDuplicateKey 判断写入是否因主键/唯一约束冲突失败，兼容 MySQL 与 SQLite。
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
