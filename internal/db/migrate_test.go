package db

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	require.True(t, sort.SliceIsSorted(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	}))

	for _, m := range migrations {
		require.True(t, strings.HasSuffix(m.version, ".sql"))
		require.NotEmpty(t, strings.TrimSpace(m.script))
	}

	require.Equal(t, "0001_users.sql", migrations[0].version)
}
