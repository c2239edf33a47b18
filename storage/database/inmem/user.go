package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/user"
)

type userRepository struct {
	db *userTable
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db.user}
}

func copyUser(u *user.User) user.User {
	c := *u
	c.Roles = copyStrings(u.Roles)
	if u.PasswordHash != nil {
		c.PasswordHash = append([]byte(nil), u.PasswordHash...)
	}
	return c
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers ...user.User) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	excluded := make(map[string]bool, len(excludedUsers))
	for _, usr := range excludedUsers {
		excluded[usr.ID] = true
	}
	for _, usr := range repo.db.table {
		if excluded[usr.ID] {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.table[usr.ID] = &usr
	return copyUser(&usr), nil
}

func (repo *userRepository) QueryUsers(_ context.Context, tenantID string, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := make([]user.User, 0)
	for _, usr := range repo.db.table {
		if usr.TenantID != tenantID || (filter != nil && !matchUser(usr, filter)) {
			continue
		}
		users = append(users, copyUser(usr))
	}
	orderBy(users, ordering, "created_at", compareUsers)
	return users, nil
}

func matchUser(usr *user.User, filter *user.QueryFilter) bool {
	if filter.Search != "" && !containsFold(filter.Search, usr.Name, usr.Username, usr.Email) {
		return false
	}
	if filter.Roles != nil {
		found := false
		for _, role := range filter.Roles {
			if usr.RoleStartsWith(role) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
		return false
	}
	if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func compareUsers(a, b user.User, field string) int {
	switch field {
	case "name":
		return strings.Compare(a.Name, b.Name)
	case "username":
		return strings.Compare(a.Username, b.Username)
	case "email":
		return strings.Compare(a.Email, b.Email)
	case "last_login":
		return compareTimes(a.LastLogin, b.LastLogin)
	default:
		return compareTimes(a.CreatedAt, b.CreatedAt)
	}
}

func (repo *userRepository) GetUserByID(_ context.Context, id string) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if usr, ok := repo.db.table[id]; ok {
		return copyUser(usr), nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) find(match func(usr *user.User) bool) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, usr := range repo.db.table {
		if match(usr) {
			return copyUser(usr), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	return repo.find(func(usr *user.User) bool { return usr.Email == email })
}

func (repo *userRepository) GetUserByUsernameOrEmail(_ context.Context, username string) (user.User, error) {
	return repo.find(func(usr *user.User) bool {
		return usr.Username == username || (usr.Email != "" && usr.Email == username)
	})
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	usr.TenantID = orig.TenantID
	usr.CreatedAt = orig.CreatedAt
	if usr.PasswordHash == nil {
		usr.PasswordHash = orig.PasswordHash
	}
	repo.db.table[usr.ID] = &usr
	return copyUser(&usr), nil
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, tenantID string, ids ...string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	deleted := 0
	for _, id := range ids {
		if usr, ok := repo.db.table[id]; ok && usr.TenantID == tenantID {
			delete(repo.db.table, id)
			deleted++
		}
	}
	return deleted, nil
}

func (repo *userRepository) CountUsers(_ context.Context, tenantID string) (int64, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var n int64
	for _, usr := range repo.db.table {
		if usr.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}
