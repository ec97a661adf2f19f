package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avauth/internal/config"
)

// fakeRows replays fixed single-column rows through the pgx.Rows
// interface.
type fakeRows struct {
	values []string
	idx    int
	err    error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.values) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if len(dest) != 1 {
		return errors.New("expected one destination")
	}
	s, ok := dest[0].(*string)
	if !ok {
		return errors.New("expected *string destination")
	}
	*s = r.values[r.idx-1]
	return nil
}

func (r *fakeRows) Values() ([]any, error) { return nil, nil }

var _ pgx.Rows = (*fakeRows)(nil)

// fakeQuerier records queries and serves canned rows per subject.
type fakeQuerier struct {
	roles       map[string][]string
	permissions map[string][]string
	queries     []string
	failWith    error
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.queries = append(q.queries, sql)
	if q.failWith != nil {
		return nil, q.failWith
	}

	subject, _ := args[0].(string)
	if sql == rolesQuery {
		return &fakeRows{values: q.roles[subject]}, nil
	}
	return &fakeRows{values: q.permissions[subject]}, nil
}

func TestPostgresDirectoryLookup(t *testing.T) {
	t.Parallel()

	querier := &fakeQuerier{
		roles:       map[string][]string{"user-1": {"moderator", "user"}},
		permissions: map[string][]string{"user-1": {"posts:read"}},
	}
	d := NewPostgresWithPool(querier, &config.DirectoryConfig{})

	roles, err := d.GetRoles(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"moderator", "user"}, roles)

	perms, err := d.GetPermissions(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"posts:read"}, perms)

	// Unknown subjects read as empty, not as an error.
	roles, err = d.GetRoles(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestPostgresDirectoryUnavailable(t *testing.T) {
	t.Parallel()

	querier := &fakeQuerier{failWith: errors.New("connection refused")}
	d := NewPostgresWithPool(querier, nil)

	_, err := d.GetRoles(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrDirectoryUnavailable)

	_, err = d.GetPermissions(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrDirectoryUnavailable)
}

func TestStaticDirectory(t *testing.T) {
	t.Parallel()

	d := NewStatic(
		map[string][]string{"user-1": {"admin"}},
		map[string][]string{"user-1": {"users:delete"}},
	)
	t.Cleanup(func() { _ = d.Close() })

	roles, err := d.GetRoles(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, roles)

	perms, err := d.GetPermissions(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"users:delete"}, perms)
}
