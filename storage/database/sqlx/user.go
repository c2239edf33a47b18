package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/user"
)

const userColumns = `id, tenant_id, name, username, email, phone, is_active, roles, password_hash,
	created_at, updated_at, last_login`

type userRow struct {
	ID           string         `db:"id"`
	TenantID     string         `db:"tenant_id"`
	Name         string         `db:"name"`
	Username     string         `db:"username"`
	Email        string         `db:"email"`
	Phone        string         `db:"phone"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func (r userRow) user() user.User {
	return user.User{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Name:         r.Name,
		Username:     r.Username,
		Email:        r.Email,
		Phone:        r.Phone,
		IsActive:     r.IsActive,
		Roles:        []string(r.Roles),
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		LastLogin:    utc(r.LastLogin),
	}
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	taken := sq.Or{}
	if username != "" {
		taken = append(taken, sq.Eq{"username": username})
	}
	if email != "" {
		taken = append(taken, sq.Eq{"email": email})
	}
	if len(taken) == 0 {
		return nil
	}
	qb := psql.Select("username", "email").From(`"user"`).Where(taken).Limit(1)
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			if validID(u.ID) {
				ids = append(ids, u.ID)
			}
		}
		if len(ids) > 0 {
			qb = qb.Where(sq.NotEq{"id": ids})
		}
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return errors.Wrap(err, "building uniqueness query")
	}
	var rows []struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, r := range rows {
		if username != "" && r.Username == username {
			return user.ErrUsernameExists
		}
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	query, args, err := psql.Insert(`"user"`).SetMap(map[string]interface{}{
		"id":            usr.ID,
		"tenant_id":     usr.TenantID,
		"name":          usr.Name,
		"username":      usr.Username,
		"email":         usr.Email,
		"phone":         usr.Phone,
		"is_active":     usr.IsActive,
		"roles":         pq.StringArray(usr.Roles),
		"password_hash": usr.PasswordHash,
		"created_at":    usr.CreatedAt.UTC(),
		"updated_at":    usr.UpdatedAt.UTC(),
		"last_login":    nullTime(usr.LastLogin),
	}).Suffix("RETURNING " + userColumns).ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building user insert")
	}
	var row userRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrUsernameExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return row.user(), nil
}

func userQuery(tenantID string, filter *user.QueryFilter, ordering []core.DBOrdering) sq.SelectBuilder {
	qb := psql.Select(userColumns).From(`"user"`).Where(sq.Eq{"tenant_id": tenantID})
	if filter != nil {
		if filter.Search != "" {
			qb = qb.Where(ilike(filter.Search, "name", "username", "email"))
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			or := make(sq.Or, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				or = append(or, sq.Expr("EXISTS (SELECT 1 FROM UNNEST(roles) r WHERE r LIKE ?)", escapeLike(role)+"%"))
			}
			qb = qb.Where(or)
		}
		if filter.IsActive != nil {
			qb = qb.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if !filter.CreatedFrom.IsZero() {
			qb = qb.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
		}
		if !filter.CreatedTo.IsZero() {
			qb = qb.Where(sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
		}
	}
	return qb.OrderBy(orderBy(ordering, nil, "created_at ASC")...)
}

func (repo *userRepository) QueryUsers(ctx context.Context, tenantID string, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	if !validID(tenantID) {
		return []user.User{}, nil
	}
	query, args, err := userQuery(tenantID, filter, ordering).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building user query")
	}
	var rows []userRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users, nil
}

func (repo *userRepository) get(ctx context.Context, pred interface{}, msg string) (user.User, error) {
	query, args, err := psql.Select(userColumns).From(`"user"`).Where(pred).Limit(1).ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building user query")
	}
	var row userRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, msg)
	}
	return row.user(), nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	if !validID(id) {
		return user.User{}, user.ErrNotFound
	}
	return repo.get(ctx, sq.Eq{"id": id}, "getting user by id")
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	if email == "" {
		return user.User{}, user.ErrNotFound
	}
	return repo.get(ctx, sq.Eq{"email": email}, "getting user by email")
}

func (repo *userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	if username == "" {
		return user.User{}, user.ErrNotFound
	}
	return repo.get(ctx, sq.Or{sq.Eq{"username": username}, sq.Eq{"email": username}}, "getting user by username or email")
}

// UpdateUser keeps the stored password hash when usr.PasswordHash is nil.
func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	if !validID(usr.ID) {
		return user.User{}, user.ErrNotFound
	}
	qb := psql.Update(`"user"`).SetMap(map[string]interface{}{
		"name":       usr.Name,
		"username":   usr.Username,
		"email":      usr.Email,
		"phone":      usr.Phone,
		"is_active":  usr.IsActive,
		"roles":      pq.StringArray(usr.Roles),
		"updated_at": usr.UpdatedAt.UTC(),
		"last_login": nullTime(usr.LastLogin),
	}).Where(sq.Eq{"id": usr.ID}).Suffix("RETURNING " + userColumns)
	if usr.PasswordHash != nil {
		qb = qb.Set("password_hash", usr.PasswordHash)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building user update")
	}
	var row userRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrUsernameExists
		}
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "updating user")
	}
	return row.user(), nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, tenantID string, ids ...string) (int, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 || !validID(tenantID) {
		return 0, nil
	}
	query, args, err := psql.Delete(`"user"`).Where(sq.Eq{"tenant_id": tenantID, "id": valid}).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building user delete")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "deleting users")
}

func (repo *userRepository) CountUsers(ctx context.Context, tenantID string) (int64, error) {
	if !validID(tenantID) {
		return 0, nil
	}
	var n int64
	err := repo.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM "user" WHERE tenant_id = $1`, tenantID)
	return n, errors.Wrap(err, "counting users")
}
