package database

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenAndMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "digest.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open 失败: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatalf("数据库文件未创建: %s", dbPath)
	}
	if db.Path() != dbPath {
		t.Errorf("Path 不匹配: %s", db.Path())
	}

	// 迁移应可重复执行
	for i := 0; i < 2; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("第 %d 次 Migrate 失败: %v", i+1, err)
		}
	}

	for _, table := range []string{"sources", "entries", "summary_cache", "events"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("表 %s 不存在: %v", table, err)
		}
	}
}

func TestEntriesUniqueConstraint(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "digest.db"))
	if err != nil {
		t.Fatalf("Open 失败: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate 失败: %v", err)
	}

	insert := `INSERT OR IGNORE INTO entries (source_id, title, link, published_at, summary, content)
		VALUES (1, 't', 'https://a.example/1', '2026-01-01T00:00:00Z', 's', 'c')`
	res, err := db.Exec(insert)
	if err != nil {
		t.Fatalf("插入失败: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("第一次插入应影响 1 行，实际 %d", n)
	}
	var unread int
	if err := db.QueryRow("SELECT unread FROM entries WHERE link = 'https://a.example/1'").Scan(&unread); err != nil || unread != 1 {
		t.Fatalf("新条目应默认未读: unread=%d err=%v", unread, err)
	}
	res, err = db.Exec(insert)
	if err != nil {
		t.Fatalf("重复插入失败: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 0 {
		t.Fatalf("重复插入应被忽略，实际影响 %d 行", n)
	}
}
