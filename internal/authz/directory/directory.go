package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// ErrDirectoryUnavailable indicates the credential store cannot be
// reached.
var ErrDirectoryUnavailable = errors.New("subject directory unavailable")

// Directory resolves roles and permissions for a subject.
type Directory interface {
	// GetRoles returns the roles assigned to a subject.
	GetRoles(ctx context.Context, subjectID string) ([]string, error)

	// GetPermissions returns the permissions assigned to a subject.
	GetPermissions(ctx context.Context, subjectID string) ([]string, error)

	// Close releases directory resources.
	Close() error
}

// Querier is the subset of pgxpool.Pool used by the directory. Tests
// substitute a fake.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	rolesQuery       = `SELECT role FROM subject_roles WHERE subject_id = $1`
	permissionsQuery = `SELECT permission FROM subject_permissions WHERE subject_id = $1`
)

// postgresDirectory implements Directory over a Postgres pool.
type postgresDirectory struct {
	pool    Querier
	timeout time.Duration
	logger  observability.Logger
	closer  func()
}

// PostgresOption is a functional option for the Postgres directory.
type PostgresOption func(*postgresDirectory)

// WithPostgresLogger sets the logger.
func WithPostgresLogger(logger observability.Logger) PostgresOption {
	return func(d *postgresDirectory) {
		d.logger = logger
	}
}

// NewPostgres connects a directory to the credential store.
func NewPostgres(ctx context.Context, cfg *config.DirectoryConfig, opts ...PostgresOption) (Directory, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, errors.New("directory DSN is required")
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	d := newPostgresDirectory(pool, cfg, opts...)
	d.closer = pool.Close
	return d, nil
}

// NewPostgresWithPool wraps an existing pool. The caller keeps
// ownership of the pool.
func NewPostgresWithPool(pool Querier, cfg *config.DirectoryConfig, opts ...PostgresOption) Directory {
	return newPostgresDirectory(pool, cfg, opts...)
}

func newPostgresDirectory(pool Querier, cfg *config.DirectoryConfig, opts ...PostgresOption) *postgresDirectory {
	timeout := config.DefaultStoreTimeout
	if cfg != nil && cfg.QueryTimeout > 0 {
		timeout = cfg.QueryTimeout
	}

	d := &postgresDirectory{
		pool:    pool,
		timeout: timeout,
		logger:  observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// GetRoles returns the roles assigned to a subject.
func (d *postgresDirectory) GetRoles(ctx context.Context, subjectID string) ([]string, error) {
	return d.queryStrings(ctx, rolesQuery, subjectID)
}

// GetPermissions returns the permissions assigned to a subject.
func (d *postgresDirectory) GetPermissions(ctx context.Context, subjectID string) ([]string, error) {
	return d.queryStrings(ctx, permissionsQuery, subjectID)
}

func (d *postgresDirectory) queryStrings(ctx context.Context, query, subjectID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	rows, err := d.pool.Query(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan directory row: %w", err)
		}
		result = append(result, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	return result, nil
}

// Close releases the pool when this directory owns it.
func (d *postgresDirectory) Close() error {
	if d.closer != nil {
		d.closer()
	}
	return nil
}

// staticDirectory serves fixed assignments, for tests and for
// deployments without a credential store.
type staticDirectory struct {
	roles       map[string][]string
	permissions map[string][]string
}

// NewStatic creates a directory over fixed role and permission maps.
func NewStatic(roles, permissions map[string][]string) Directory {
	return &staticDirectory{roles: roles, permissions: permissions}
}

func (d *staticDirectory) GetRoles(_ context.Context, subjectID string) ([]string, error) {
	return d.roles[subjectID], nil
}

func (d *staticDirectory) GetPermissions(_ context.Context, subjectID string) ([]string, error) {
	return d.permissions[subjectID], nil
}

func (d *staticDirectory) Close() error {
	return nil
}

// Ensure implementations satisfy the interface.
var (
	_ Directory = (*postgresDirectory)(nil)
	_ Directory = (*staticDirectory)(nil)
)
