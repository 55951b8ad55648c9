package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseSequence(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		want    int64
		wantErr bool
	}{
		{name: "timestamp prefix", file: "1738657155856-create-users.sql", want: 1738657155856},
		{name: "short prefix", file: "100-init.ext", want: 100},
		{name: "multiple dashes", file: "200-add-col-to-users.go", want: 200},
		{name: "no dash", file: "registry.go", wantErr: true},
		{name: "empty prefix", file: "-init.sql", wantErr: true},
		{name: "non numeric", file: "abc-init.sql", wantErr: true},
		{name: "mixed prefix", file: "12ab-init.sql", wantErr: true},
		{name: "zero", file: "0-init.sql", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSequence(tt.file)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMigrationFile) {
					t.Fatalf("want ErrInvalidMigrationFile, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSequence(%q) failed: %v", tt.file, err)
			}
			if got != tt.want {
				t.Errorf("want %d, got %d", tt.want, got)
			}
		})
	}
}

func TestDirectoryKey(t *testing.T) {
	cfg := MigrationConfig{DirKeyPrefix: "app", FolderName: "migrations"}
	if got := cfg.DirectoryKey("migrations"); got != "app_migrations" {
		t.Errorf("want app_migrations, got %s", got)
	}
	if got := DirectoryKey("app", "seeds"); got != "app_seeds" {
		t.Errorf("want app_seeds, got %s", got)
	}
}

func TestBatchResult_AllSucceeded(t *testing.T) {
	batch := BatchResult{
		Status: StatusSuccess,
		Items: []ItemResult{
			{FileName: "100-a.sql", Outcome: OutcomeApplied, HistoryUpdated: true},
			{FileName: "200-b.sql", Outcome: OutcomeApplied, HistoryUpdated: true, Err: ErrArchive},
		},
	}
	if !batch.AllSucceeded() {
		t.Error("archive failure must not mark the batch as failed")
	}

	batch.Items = append(batch.Items, ItemResult{FileName: "300-c.sql", Outcome: OutcomeFailed, Err: ErrExecution})
	if batch.AllSucceeded() {
		t.Error("expected AllSucceeded=false with a failed item")
	}

	succeeded, failed := batch.Counts()
	if succeeded != 2 || failed != 1 {
		t.Errorf("want 2/1, got %d/%d", succeeded, failed)
	}
	if batch.Status != StatusSuccess {
		t.Errorf("aggregate status must stay SUCCESS, got %s", batch.Status)
	}
}

func TestValidateFolderName(t *testing.T) {
	valid := []string{"migrations", "tenant_a", "v1.2", "seed-data"}
	for _, name := range valid {
		if err := ValidateFolderName(name); err != nil {
			t.Errorf("ValidateFolderName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", ".", "..", "../etc", "a/b", `a\b`, "/abs", "has space", strings.Repeat("a", 129)}
	for _, name := range invalid {
		if err := ValidateFolderName(name); !errors.Is(err, ErrInvalidFolderName) {
			t.Errorf("ValidateFolderName(%q) = %v, want ErrInvalidFolderName", name, err)
		}
	}
}
