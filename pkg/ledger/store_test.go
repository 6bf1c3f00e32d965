package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStores(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		DriverMemory: func(t *testing.T) Store { return NewMemoryStore() },
		DriverJSON: func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "credits.json"), nil)
			require.NoError(t, err)
			return s
		},
		DriverBolt: func(t *testing.T) Store {
			s, err := OpenBolt(filepath.Join(t.TempDir(), "credits.db"))
			require.NoError(t, err)
			return s
		},
		DriverSQLite: func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "credits.sqlite"))
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			_, found, err := s.Get(ctx, "alice")
			require.NoError(t, err)
			assert.False(t, found)

			want := Account{Credits: 2, LastResetDate: "2026-05-04"}
			require.NoError(t, s.Put(ctx, "alice", want))

			got, found, err := s.Get(ctx, "alice")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, want, got)

			batch := map[string]Account{
				"alice": {Credits: 3, LastResetDate: "2026-05-04"},
				"bob":   {Credits: 3, LastResetDate: "2026-05-01"},
			}
			require.NoError(t, s.PutAll(ctx, batch))

			all, err := s.All(ctx)
			require.NoError(t, err)
			assert.Equal(t, batch, all)
		})
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credits.json")
	ctx := context.Background()

	s, err := NewFileStore(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "alice", Account{Credits: 1, LastResetDate: "2026-05-04"}))

	reopened, err := NewFileStore(path, nil)
	require.NoError(t, err)
	got, found, err := reopened.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, got.Credits)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not be left behind")
}

func TestFileStore_MalformedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credits.json")
	doc := `{
  "version": "1",
  "accounts": {
    "good": {"credits": 2, "last_reset_date": "2026-05-04"},
    "string_credits": {"credits": "lots", "last_reset_date": "2026-05-04"},
    "not_an_object": 7
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	s, err := NewFileStore(path, nil)
	require.NoError(t, err)
	ctx := context.Background()

	good, found, err := s.Get(ctx, "good")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, good.valid())

	bad, found, err := s.Get(ctx, "string_credits")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, bad.valid(), "wrongly typed credits must be flagged for repair")

	_, found, err = s.Get(ctx, "not_an_object")
	require.NoError(t, err)
	assert.False(t, found, "non-object entries are dropped")

	l := New(s, WithAllotment(3))
	repaired, err := l.GetOrInit(ctx, "string_credits")
	require.NoError(t, err)
	assert.Equal(t, 3, repaired.Credits)
}

func TestFileStore_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credits.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewFileStore(path, nil)
	assert.Error(t, err)
}

func TestDecodeAccount(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		valid bool
	}{
		{"well formed", `{"credits":3,"last_reset_date":"2026-05-04"}`, true},
		{"fractional credits", `{"credits":1.5,"last_reset_date":"2026-05-04"}`, false},
		{"missing date", `{"credits":3}`, false},
		{"bad date", `{"credits":3,"last_reset_date":"May 4"}`, false},
		{"array", `[1,2]`, false},
		{"garbage", `{{`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, decodeAccount([]byte(tt.raw)).valid())
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("mongo", "", nil)
	assert.Error(t, err)
}

func TestSQLStoreRebind(t *testing.T) {
	pg := &SQLStore{dialect: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &SQLStore{dialect: DriverSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}
