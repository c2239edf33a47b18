package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/user"
)

func CreateTenant(t *testing.T, svc tenant.Service, name, slug, timezone string, plan tenant.Plan) tenant.Tenant {
	t.Helper()
	tnt, err := svc.Create(context.Background(), tenant.NewTenant{Name: name, Slug: slug, Timezone: timezone, Plan: plan})
	if err != nil {
		t.Fatalf("createTenant() failed: %v", err)
	}
	return tnt
}

// CreateUser stores a user straight in repo, without consuming a seat of its tenant.
func CreateUser(
	t *testing.T,
	repo user.Repository,
	tenantID, name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}
