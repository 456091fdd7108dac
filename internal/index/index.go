// Package index 规范存储的 SQLite 镜像，供外部查询工具做 top/bottom-N 查询
package index

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Hara602/fileSentry/internal/analysis"
	"github.com/Hara602/fileSentry/internal/model"
	_ "modernc.org/sqlite"
)

// Field 排序字段
type Field string

const (
	ByOpen   Field = "open_count"
	ByModify Field = "modify_count"
)

// Entry 一条查询结果
type Entry struct {
	model.ActivityRecord
	Kind      string
	UpdatedAt time.Time
}

// Index 每次 compaction 成功后整体替换
type Index struct {
	db   *sql.DB
	kind func(path string) string
}

// Open 初始化数据库表结构
func Open(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// 只有主循环写入
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS activity (
		path TEXT PRIMARY KEY,
		open_count INTEGER NOT NULL,
		modify_count INTEGER NOT NULL,
		kind TEXT NOT NULL DEFAULT 'unknown',
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS activity_open ON activity(open_count, path);
	CREATE INDEX IF NOT EXISTS activity_modify ON activity(modify_count, path);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &Index{db: db, kind: analysis.Kind}, nil
}

// Mirror 在一个事务里用 records 替换整张表
func (x *Index) Mirror(records []model.ActivityRecord) (err error) {
	tx, err := x.db.Begin()
	if err != nil {
		return fmt.Errorf("begin mirror: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec("DELETE FROM activity"); err != nil {
		return fmt.Errorf("clear activity: %w", err)
	}
	stmt, err := tx.Prepare(
		"INSERT INTO activity(path, open_count, modify_count, kind, updated_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, r := range records {
		if _, err = stmt.Exec(r.Path, int64(r.OpenCount), int64(r.ModifyCount), x.kind(r.Path), now); err != nil {
			return fmt.Errorf("insert %s: %w", r.Path, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit mirror: %w", err)
	}
	return nil
}

// Top 按字段降序取前 n 条
func (x *Index) Top(n int, by Field) ([]Entry, error) {
	return x.query(n, by, "DESC")
}

// Bottom 按字段升序取前 n 条
func (x *Index) Bottom(n int, by Field) ([]Entry, error) {
	return x.query(n, by, "ASC")
}

func (x *Index) query(n int, by Field, order string) ([]Entry, error) {
	if by != ByOpen && by != ByModify {
		return nil, fmt.Errorf("unknown field %q", by)
	}
	if n <= 0 {
		n = 1
	}
	q := fmt.Sprintf(
		"SELECT path, open_count, modify_count, kind, updated_at FROM activity ORDER BY %s %s, path ASC LIMIT ?",
		by, order)
	rows, err := x.db.Query(q, n)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e             Entry
			open, mod, ts int64
		)
		if err := rows.Scan(&e.Path, &open, &mod, &e.Kind, &ts); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.OpenCount, e.ModifyCount = uint32(open), uint32(mod)
		e.UpdatedAt = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (x *Index) Close() error {
	return x.db.Close()
}
