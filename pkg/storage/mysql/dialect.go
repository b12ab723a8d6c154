// Package mysql 数仓可选的MySQL方言
package mysql

import (
	"fmt"
	"regexp"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/LENAX/statflow/pkg/storage"
)

var (
	realType = regexp.MustCompile(`(?i)\bREAL\b`)
	blobType = regexp.MustCompile(`(?i)\bBLOB\b`)
)

// MySQLDialect MySQL方言（对外导出）
type MySQLDialect struct{}

// NewMySQLDialect 创建MySQL方言
func NewMySQLDialect() *MySQLDialect {
	return &MySQLDialect{}
}

func (d *MySQLDialect) Name() string { return "mysql" }

func (d *MySQLDialect) DriverName() string { return "mysql" }

// PrepareDSN 缺少parseTime时补上，时间列才能扫描为time.Time
func (d *MySQLDialect) PrepareDSN(dsn string) (string, error) {
	if strings.Contains(dsn, "parseTime=") {
		return dsn, nil
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true", nil
	}
	return dsn + "?parseTime=true", nil
}

// UpsertSQL ON DUPLICATE KEY UPDATE，冲突键由表的主键决定
func (d *MySQLDialect) UpsertSQL(table string, columns []string, keyColumns ...string) string {
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), storage.NamedValues(columns))
	values := storage.ValueColumns(columns, keyColumns)
	if len(values) == 0 {
		return strings.Replace(insert, "INSERT INTO", "INSERT IGNORE INTO", 1)
	}
	sets := make([]string, len(values))
	for i, col := range values {
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}
	return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s", insert, strings.Join(sets, ", "))
}

// CreateTableSQL 缓存负载改为LONGBLOB，统计值改为DOUBLE，并指定InnoDB
func (d *MySQLDialect) CreateTableSQL(ddl string) string {
	out := blobType.ReplaceAllString(ddl, "LONGBLOB")
	out = realType.ReplaceAllString(out, "DOUBLE")
	out = strings.ReplaceAll(out, "AUTOINCREMENT", "AUTO_INCREMENT")
	if !strings.Contains(out, "ENGINE=") && strings.Contains(out, "CREATE TABLE") {
		out = strings.TrimRight(strings.TrimSpace(out), ";") + " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;"
	}
	return out
}

// SessionSQL 严格模式，避免统计值被静默截断
func (d *MySQLDialect) SessionSQL() []string {
	return []string{
		"SET SESSION sql_mode='STRICT_TRANS_TABLES,NO_ZERO_IN_DATE,NO_ZERO_DATE,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION';",
	}
}

var _ storage.Dialect = (*MySQLDialect)(nil)
