package migrate

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(dir, name, content string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)
}

func TestSplitStatements(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"single", `create table t (id text);`, 1},
		{"two", `create table a (id text); create table b (id text);`, 2},
		{"semicolon in string", `insert into t values ('a;b'); insert into t values ('c');`, 2},
		{"trailing without semicolon", `select 1`, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitStatements(tc.in)
			if len(got) != tc.want {
				t.Fatalf("expected %d statements, got %d: %v", tc.want, len(got), got)
			}
		})
	}
}

func TestCollectSQLSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	write := func(name string) {
		t.Helper()
		if err := writeFile(dir, name, "select 1;"); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("0002_sessions.up.sql")
	write("0001_users.up.sql")
	write("0001_users.down.sql")

	files, err := collectSQL(dir, ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, f.base)
	}
	want := []string{"0001_users.up.sql", "0002_sessions.up.sql"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("unexpected files: %v", names)
	}
}

func TestCollectSQLMissingDir(t *testing.T) {
	files, err := collectSQL("/nonexistent/path/for/test", ".sql")
	if err != nil {
		t.Fatalf("expected missing dir to be tolerated, got %v", err)
	}
	if files != nil {
		t.Fatalf("expected no files, got %v", files)
	}
}
