package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_b.up.sql":   {Data: []byte("SELECT 2")},
		"migrations/0001_a.up.sql":   {Data: []byte("SELECT 1")},
		"migrations/0001_a.down.sql": {Data: []byte("SELECT 0")},
		"migrations/README.md":       {Data: []byte("docs")},
		"migrations/nested/x.up.sql": {Data: []byte("SELECT 3")},
	}

	names, err := ListMigrations(fsys, "migrations")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, names)
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "a.up.sql", joinPath(".", "a.up.sql"))
	assert.Equal(t, "migrations/a.up.sql", joinPath("migrations", "a.up.sql"))
}
