// Package postgres 数仓可选的PostgreSQL方言
package postgres

import (
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"

	"github.com/LENAX/statflow/pkg/storage"
)

var (
	autoIncrement = regexp.MustCompile(`(?i)\bINTEGER PRIMARY KEY AUTOINCREMENT\b`)
	realType      = regexp.MustCompile(`(?i)\bREAL\b`)
	blobType      = regexp.MustCompile(`(?i)\bBLOB\b`)
)

// PostgresDialect PostgreSQL方言（对外导出）
type PostgresDialect struct{}

// NewPostgresDialect 创建PostgreSQL方言
func NewPostgresDialect() *PostgresDialect {
	return &PostgresDialect{}
}

func (d *PostgresDialect) Name() string { return "postgres" }

func (d *PostgresDialect) DriverName() string { return "postgres" }

// PrepareDSN 原样返回
func (d *PostgresDialect) PrepareDSN(dsn string) (string, error) {
	return dsn, nil
}

// UpsertSQL INSERT ... ON CONFLICT DO UPDATE
// 冲突键必须有唯一约束（数仓表的主键或经纬度联合主键）
func (d *PostgresDialect) UpsertSQL(table string, columns []string, keyColumns ...string) string {
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), storage.NamedValues(columns))
	values := storage.ValueColumns(columns, keyColumns)
	if len(values) == 0 {
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", insert, strings.Join(keyColumns, ", "))
	}
	sets := make([]string, len(values))
	for i, col := range values {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", insert, strings.Join(keyColumns, ", "), strings.Join(sets, ", "))
}

// CreateTableSQL 自增主键改为SERIAL，缓存负载改为BYTEA，统计值改为双精度
func (d *PostgresDialect) CreateTableSQL(ddl string) string {
	out := autoIncrement.ReplaceAllString(ddl, "SERIAL PRIMARY KEY")
	out = blobType.ReplaceAllString(out, "BYTEA")
	return realType.ReplaceAllString(out, "DOUBLE PRECISION")
}

// SessionSQL 比赛时间按UTC保存
func (d *PostgresDialect) SessionSQL() []string {
	return []string{"SET timezone = 'UTC';"}
}

var _ storage.Dialect = (*PostgresDialect)(nil)
