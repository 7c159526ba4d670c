package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/complykit/complykit/pkg/cursor"
	"github.com/complykit/complykit/pkg/pg"
)

// PostgresStore is the pgx-backed Store. The active transaction travels in
// the context so repository methods run inside it transparently.
type PostgresStore struct {
	pool      *pgxpool.Pool
	txTimeout time.Duration
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool, txTimeout time.Duration) *PostgresStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PostgresStore{pool: pool, txTimeout: txTimeout}
}

type pgTxKey struct{}

var errNoTx = errors.New("billing: row lock requested outside a transaction")

func (s *PostgresStore) q(ctx context.Context) pg.Querier {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return pg.RunInTx(ctx, s.pool, s.txTimeout, func(ctx context.Context, tx pgx.Tx) error {
		return fn(context.WithValue(ctx, pgTxKey{}, tx))
	})
}

const subscriptionColumns = `id, profile_id, package_id, start_date, end_date, status, current_period_end,
	COALESCE(transaction_reference, ''), COALESCE(subscription_code, ''), COALESCE(customer_code, ''),
	COALESCE(email_token, ''), refunded_at, created_at, updated_at, version`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var s Subscription
	err := row.Scan(
		&s.ID, &s.ProfileID, &s.PackageID, &s.StartDate, &s.EndDate, &s.Status, &s.CurrentPeriodEnd,
		&s.TransactionReference, &s.SubscriptionCode, &s.CustomerCode,
		&s.EmailToken, &s.RefundedAt, &s.CreatedAt, &s.UpdatedAt, &s.Version,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return Subscription{}, ErrSubscriptionNotFound
		}
		return Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}
	return s, nil
}

func collectSubscriptions(rows pgx.Rows, err error) ([]Subscription, error) {
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id uuid.UUID) (Subscription, error) {
	return scanSubscription(s.q(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
}

func (s *PostgresStore) LockSubscription(ctx context.Context, id uuid.UUID) (Subscription, error) {
	if _, ok := ctx.Value(pgTxKey{}).(pgx.Tx); !ok {
		return Subscription{}, errNoTx
	}
	return scanSubscription(s.q(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, id))
}

func (s *PostgresStore) FindSubscriptionByReference(ctx context.Context, reference string) (Subscription, error) {
	return scanSubscription(s.q(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE transaction_reference = $1`, reference))
}

func (s *PostgresStore) FindSubscriptionByCode(ctx context.Context, code string) (Subscription, error) {
	return scanSubscription(s.q(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscription_code = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`, code))
}

func (s *PostgresStore) FindRenewable(ctx context.Context, customerCode string, packageID uuid.UUID) (Subscription, error) {
	return scanSubscription(s.q(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE customer_code = $1 AND package_id = $2 AND status = 'active'
		ORDER BY created_at DESC, id DESC LIMIT 1`, customerCode, packageID))
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, f SubscriptionFilter, q cursor.Query) ([]Subscription, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ProfileID != "" {
		where = append(where, "profile_id = "+arg(f.ProfileID))
	}
	switch f.Status {
	case "":
	case StatusActive:
		where = append(where, "status = 'active' AND end_date > "+arg(f.Now))
	case StatusExpired:
		where = append(where, "(status = 'expired' OR (status = 'active' AND end_date <= "+arg(f.Now)+"))")
	default:
		where = append(where, "status = "+arg(string(f.Status)))
	}

	sql := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	sql += keysetClause(where, q, arg)
	return collectSubscriptions(s.q(ctx).Query(ctx, sql, args...))
}

// keysetClause renders WHERE, ORDER BY and LIMIT for a (created_at, id)
// keyset page. arg appends a bind parameter and returns its placeholder.
func keysetClause(where []string, q cursor.Query, arg func(any) string) string {
	cmp, dir := "<", "DESC"
	if q.Order == cursor.Asc {
		cmp, dir = ">", "ASC"
	}
	if q.After != nil {
		id, err := uuid.Parse(q.After.ID)
		if err == nil {
			where = append(where, fmt.Sprintf("(created_at, id) %s (%s, %s)", cmp, arg(q.After.CreatedAt), arg(id)))
		}
	}

	var b strings.Builder
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY created_at %s, id %s LIMIT %s", dir, dir, arg(q.FetchLimit()))
	return b.String()
}

func (s *PostgresStore) ActiveSubscriptions(ctx context.Context, profileID string, now time.Time) ([]Subscription, error) {
	return collectSubscriptions(s.q(ctx).Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE profile_id = $1 AND status = 'active' AND end_date > $2
		ORDER BY created_at ASC, id ASC`, profileID, now))
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub Subscription) (bool, error) {
	tag, err := s.q(ctx).Exec(ctx, `INSERT INTO subscriptions (
			id, profile_id, package_id, start_date, end_date, status, current_period_end,
			transaction_reference, subscription_code, customer_code, email_token,
			refunded_at, created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12, $13, $14, $15)
		ON CONFLICT (transaction_reference) DO NOTHING`,
		sub.ID, sub.ProfileID, sub.PackageID, sub.StartDate, sub.EndDate, string(sub.Status), sub.CurrentPeriodEnd,
		sub.TransactionReference, sub.SubscriptionCode, sub.CustomerCode, sub.EmailToken,
		sub.RefundedAt, sub.CreatedAt, sub.UpdatedAt, max(sub.Version, 1),
	)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return false, ErrPackageNotFound
		}
		return false, fmt.Errorf("insert subscription: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateSubscription compares versions rather than status: under read
// committed a concurrent commit bumps the version, so the re-checked WHERE
// no longer matches and the write is refused.
func (s *PostgresStore) UpdateSubscription(ctx context.Context, sub Subscription) (bool, error) {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE subscriptions SET
			package_id = $3, start_date = $4, end_date = $5, status = $6, current_period_end = $7,
			transaction_reference = NULLIF($8, ''), subscription_code = NULLIF($9, ''),
			customer_code = NULLIF($10, ''), email_token = NULLIF($11, ''),
			refunded_at = $12, updated_at = $13, version = version + 1
		WHERE id = $1 AND version = $2`,
		sub.ID, sub.Version,
		sub.PackageID, sub.StartDate, sub.EndDate, string(sub.Status), sub.CurrentPeriodEnd,
		sub.TransactionReference, sub.SubscriptionCode, sub.CustomerCode, sub.EmailToken,
		sub.RefundedAt, sub.UpdatedAt,
	)
	if err != nil {
		switch {
		case pg.IsForeignKeyViolationError(err):
			return false, ErrPackageNotFound
		case pg.IsDuplicateKeyError(err):
			return false, ErrDuplicateReference
		}
		return false, fmt.Errorf("update subscription: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkEventProcessed(ctx context.Context, key, event string, at time.Time) (bool, error) {
	tag, err := s.q(ctx).Exec(ctx,
		`INSERT INTO processed_webhook_events (event_key, event, processed_at) VALUES ($1, $2, $3)
		ON CONFLICT (event_key) DO NOTHING`, key, event, at)
	if err != nil {
		return false, fmt.Errorf("mark webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const permissionColumns = `id, permission_name, psira_access, firearm_access, vehicle_access,
	certificate_access, drivers_access, created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.PSIRA, &p.Firearm, &p.Vehicle, &p.Certificate, &p.Drivers, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return Permission{}, ErrPermissionNotFound
		}
		return Permission{}, fmt.Errorf("scan permission: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) CreatePermission(ctx context.Context, p Permission) error {
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO permissions (`+permissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Name, p.PSIRA, p.Firearm, p.Vehicle, p.Certificate, p.Drivers, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert permission: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePermission(ctx context.Context, p Permission) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE permissions SET
			permission_name = $2, psira_access = $3, firearm_access = $4, vehicle_access = $5,
			certificate_access = $6, drivers_access = $7, updated_at = $8
		WHERE id = $1`,
		p.ID, p.Name, p.PSIRA, p.Firearm, p.Vehicle, p.Certificate, p.Drivers, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

func (s *PostgresStore) GetPermission(ctx context.Context, id uuid.UUID) (Permission, error) {
	return scanPermission(s.q(ctx).QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
}

func (s *PostgresStore) ListPermissions(ctx context.Context, q cursor.Query) ([]Permission, error) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	rows, err := s.q(ctx).Query(ctx, `SELECT `+permissionColumns+` FROM permissions`+keysetClause(nil, q, arg), args...)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	var out []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeletePermission(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return ErrPermissionInUse
		}
		return fmt.Errorf("delete permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

func (s *PostgresStore) PermissionsForPackages(ctx context.Context, packageIDs []uuid.UUID) (map[uuid.UUID]Permission, error) {
	out := make(map[uuid.UUID]Permission, len(packageIDs))
	if len(packageIDs) == 0 {
		return out, nil
	}
	ids := make([]string, len(packageIDs))
	for i, id := range packageIDs {
		ids[i] = id.String()
	}

	rows, err := s.q(ctx).Query(ctx, `SELECT pkg.id, perm.id, perm.permission_name, perm.psira_access,
			perm.firearm_access, perm.vehicle_access, perm.certificate_access, perm.drivers_access,
			perm.created_at, perm.updated_at
		FROM packages pkg JOIN permissions perm ON perm.id = pkg.permission_id
		WHERE pkg.id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("query package permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			pkgID uuid.UUID
			p     Permission
		)
		if err := rows.Scan(&pkgID, &p.ID, &p.Name, &p.PSIRA, &p.Firearm, &p.Vehicle, &p.Certificate, &p.Drivers, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan package permission: %w", err)
		}
		out[pkgID] = p
	}
	return out, rows.Err()
}

const packageColumns = `id, package_name, slug, type, permission_id, description, is_active,
	price, currency, COALESCE(plan_code, ''), created_at, updated_at`

func scanPackage(row pgx.Row) (Package, error) {
	var p Package
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Type, &p.PermissionID, &p.Description, &p.IsActive,
		&p.Price, &p.Currency, &p.PlanCode, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return Package{}, ErrPackageNotFound
		}
		return Package{}, fmt.Errorf("scan package: %w", err)
	}
	return p, nil
}

func packageWriteError(op string, err error) error {
	switch {
	case pg.IsDuplicateKeyError(err) && pg.ConstraintName(err) == "packages_slug_key":
		return ErrDuplicateSlug
	case pg.IsForeignKeyViolationError(err):
		return ErrPermissionNotFound
	}
	return fmt.Errorf("%s package: %w", op, err)
}

func (s *PostgresStore) CreatePackage(ctx context.Context, p Package) error {
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO packages (
			id, package_name, slug, type, permission_id, description, is_active,
			price, currency, plan_code, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)`,
		p.ID, p.Name, p.Slug, string(p.Type), p.PermissionID, p.Description, p.IsActive,
		p.Price, p.Currency, p.PlanCode, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return packageWriteError("insert", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePackage(ctx context.Context, p Package) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE packages SET
			package_name = $2, slug = $3, type = $4, permission_id = $5, description = $6,
			is_active = $7, price = $8, currency = $9, plan_code = NULLIF($10, ''), updated_at = $11
		WHERE id = $1`,
		p.ID, p.Name, p.Slug, string(p.Type), p.PermissionID, p.Description,
		p.IsActive, p.Price, p.Currency, p.PlanCode, p.UpdatedAt)
	if err != nil {
		return packageWriteError("update", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPackageNotFound
	}
	return nil
}

func (s *PostgresStore) GetPackage(ctx context.Context, id uuid.UUID) (Package, error) {
	return scanPackage(s.q(ctx).QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = $1`, id))
}

func (s *PostgresStore) FindPackageByPlanCode(ctx context.Context, planCode string) (Package, error) {
	return scanPackage(s.q(ctx).QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE plan_code = $1`, planCode))
}

func (s *PostgresStore) ListPackages(ctx context.Context, f PackageFilter, q cursor.Query) ([]Package, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !f.IncludeInactive {
		where = append(where, "is_active")
	}

	rows, err := s.q(ctx).Query(ctx, `SELECT `+packageColumns+` FROM packages`+keysetClause(where, q, arg), args...)
	if err != nil {
		return nil, fmt.Errorf("query packages: %w", err)
	}
	defer rows.Close()

	var out []Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
