package main

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilenamePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_init_schema.sql", true, "0001", "init_schema"},
		{"001_invalid.sql", false, "", ""},
		{"0001_test", false, "", ""},
		{"0001.sql", false, "", ""},
		{"invalid_0001_test.sql", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			m := migrationPattern.FindStringSubmatch(tt.filename)
			if !tt.valid {
				assert.Nil(t, m)
				return
			}
			require.NotNil(t, m)
			assert.Equal(t, tt.version, m[1])
			assert.Equal(t, tt.name, m[2])
		})
	}
}

func TestReadMigrations_SortsAndFillsPlaceholders(t *testing.T) {
	src := fstest.MapFS{
		"0002_second.sql": {Data: []byte("SELECT 2 FROM `{{PROJECT_ID}}.{{DATASET_ID}}.t`")},
		"0001_first.sql":  {Data: []byte("SELECT 1")},
		"README.md":       {Data: []byte("notes")},
	}

	got, err := readMigrations(src, target{project: "p", dataset: "d"}, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Version)
	assert.Equal(t, "second", got[1].Name)
	assert.Equal(t, "SELECT 2 FROM `p.d.t`", got[1].SQL)
}

func TestReadMigrations_ChecksumIgnoresTarget(t *testing.T) {
	src := fstest.MapFS{"0001_x.sql": {Data: []byte("CREATE TABLE `{{DATASET_ID}}.x` (id INT64)")}}

	a, err := readMigrations(src, target{project: "p1", dataset: "d1"}, zerolog.Nop())
	require.NoError(t, err)
	b, err := readMigrations(src, target{project: "p2", dataset: "d2"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, a[0].Checksum, b[0].Checksum)
	assert.NotEqual(t, a[0].SQL, b[0].SQL)
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	src := fstest.MapFS{
		"0001_a.sql": {Data: []byte("SELECT 1")},
		"0001_b.sql": {Data: []byte("SELECT 2")},
	}
	_, err := readMigrations(src, target{project: "p", dataset: "d"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestPendingAndChangedMigrations(t *testing.T) {
	all := []Migration{
		{Version: 1, Checksum: "aaa"},
		{Version: 2, Checksum: "bbb"},
		{Version: 3, Checksum: "ccc"},
	}
	applied := []AppliedMigration{
		{Version: 1, Checksum: "aaa"},
		{Version: 2, Checksum: "old"},
	}

	pending := pendingMigrations(all, applied)
	require.Len(t, pending, 1)
	assert.Equal(t, 3, pending[0].Version)

	changed := changedMigrations(all, applied)
	require.Len(t, changed, 1)
	assert.Equal(t, 2, changed[0].Version)
}

func TestEmbeddedMigrations_CoverRepositoryTables(t *testing.T) {
	src, err := fs.Sub(embedded, "migrations")
	require.NoError(t, err)

	got, err := readMigrations(src, target{project: "p", dataset: "finance"}, zerolog.Nop())
	require.NoError(t, err)

	var all strings.Builder
	for _, m := range got {
		assert.NotContains(t, m.SQL, "{{")
		all.WriteString(m.SQL)
	}
	for _, table := range []string{"accounts", "transactions", "import_batches"} {
		assert.Contains(t, all.String(), "`p.finance."+table+"`")
	}
}
