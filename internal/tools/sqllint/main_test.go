package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRepositoryQueriesCarryMarkers(t *testing.T) {
	violations, err := lintTargets([]string{filepath.Join("..", "..", "sqlinline")})
	if err != nil {
		t.Fatalf("lintTargets error: %v", err)
	}
	for _, v := range violations {
		t.Errorf("%s:%d %s (%s)", v.file, v.line, v.message, v.name)
	}
}

func TestLintFileReportsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	src := strings.Join([]string{
		"package q",
		"",
		"const QA = `--sql 8e0ab9bb-a6db-47e1-b77c-2c408dd5c7ab",
		"select 1;",
		"`",
		"",
		"const QB = `--sql 8e0ab9bb-a6db-47e1-b77c-2c408dd5c7ab",
		"select 2;",
		"`",
		"",
		"const QC = `select 3;`",
		"",
		"const Label = \"not sql\"",
		"",
	}, "\n")
	path := filepath.Join(dir, "q.go")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	violations, err := lintTargets([]string{dir})
	if err != nil {
		t.Fatalf("lintTargets error: %v", err)
	}
	if len(violations) != 2 {
		t.Fatalf("expected 2 violations, got %d: %+v", len(violations), violations)
	}
	if violations[0].name != "QB" || !strings.Contains(violations[0].message, "already used by QA") {
		t.Fatalf("unexpected first violation: %+v", violations[0])
	}
	if violations[1].name != "QC" {
		t.Fatalf("unexpected second violation: %+v", violations[1])
	}
}
