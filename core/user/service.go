package user

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/notification"
	"github.com/trezcool/fieldops/core/tenant"
)

var (
	// errors
	ErrNotFound       = core.NewNotFoundError("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
	ErrInvalidToken   = errors.New("invalid password reset token")
)

type (
	Repository interface {
		// CheckUsernameUniqueness returns ErrUsernameExists or ErrEmailExists when another user holds them.
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, user User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		// QueryFilter.Roles matches users having any role starting with one of them.
		QueryUsers(ctx context.Context, tenantID string, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		GetUserByUsernameOrEmail(ctx context.Context, username string) (User, error)
		UpdateUser(ctx context.Context, user User) (User, error)
		// DeleteUsersByID deletes the given users of a tenant and returns how many were deleted.
		DeleteUsersByID(ctx context.Context, tenantID string, ids ...string) (int, error)
		CountUsers(ctx context.Context, tenantID string) (int64, error)
	}

	Service interface {
		CheckUniqueness(ctx context.Context, uname, email string, excludedUsers ...User) error
		Create(ctx context.Context, tenantID string, nu NewUser) (User, error)
		Query(ctx context.Context, tenantID string, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		Update(ctx context.Context, id string, uu UpdateUser) (User, error)
		Delete(ctx context.Context, tenantID string, ids ...string) error
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, rp ResetUserPassword) error
		ListTenantAdmins(ctx context.Context, tenantID string) ([]notification.Recipient, error)
	}

	service struct {
		repo    Repository
		tenants tenant.Service
		mailSvc core.EmailService
		logger  core.Logger
	}
)

var (
	_ Service                  = (*service)(nil)
	_ notification.AdminLister = (*service)(nil)
)

func NewService(repo Repository, tenants tenant.Service, mailSvc core.EmailService, conf *core.Config, logger core.Logger) Service {
	configureTokens(conf)
	return &service{
		repo:    repo,
		tenants: tenants,
		mailSvc: mailSvc,
		logger:  logger,
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, uname, email string, excludedUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, excludedUsers...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, tenantID string, nu NewUser) (User, error) {
	now := core.NowFunc().UTC()
	usr := User{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		Phone:     nu.Phone,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}

	if _, err := svc.tenants.Consume(ctx, tenantID, tenant.UsageUsers, 1); err != nil {
		return User{}, err
	}
	usr, err := svc.repo.CreateUser(ctx, usr)
	if err != nil {
		if rErr := svc.tenants.Release(ctx, tenantID, tenant.UsageUsers, 1); rErr != nil {
			svc.logger.Error(fmt.Sprintf("releasing user seat of tenant %s: %v", tenantID, rErr), rErr)
		}
		return User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

func (svc *service) Query(ctx context.Context, tenantID string, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, tenantID, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = core.NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) Update(ctx context.Context, id string, uu UpdateUser) (User, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	usr.Name = uu.Name
	usr.Username = uu.Username
	usr.Email = uu.Email
	if uu.Phone != nil {
		usr.Phone = *uu.Phone
	}
	if uu.Roles != nil {
		usr.Roles = uu.Roles
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Password != "" {
		if err = usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "hashing password")
		}
	}
	usr.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) Delete(ctx context.Context, tenantID string, ids ...string) error {
	n, err := svc.repo.DeleteUsersByID(ctx, tenantID, ids...)
	if err != nil {
		return errors.Wrap(err, "deleting users")
	}
	if n > 0 {
		if err = svc.tenants.Release(ctx, tenantID, tenant.UsageUsers, int64(n)); err != nil {
			svc.logger.Error(fmt.Sprintf("releasing %d user seats of tenant %s: %v", n, tenantID, err), err)
		}
	}
	return nil
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	svc.mailSvc.SendMessages(passwordResetMessage(usr))
	return nil
}

func passwordResetMessage(usr User) *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]string{
			"Name":  usr.Name,
			"UID":   EncodeUID(usr),
			"Token": makeToken(usr),
		},
	}
}

func (svc *service) ResetPassword(ctx context.Context, rp ResetUserPassword) error {
	id, err := decodeUID(rp.UID)
	if err != nil {
		return ErrInvalidToken
	}
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return ErrInvalidToken
		}
		return err
	}
	if err = verifyToken(usr, rp.Token); err != nil {
		return ErrInvalidToken
	}

	if err = validatePasswordPolicy(rp.Password, usr); err != nil {
		return err
	}
	if err = usr.SetPassword(rp.Password); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	usr.UpdatedAt = core.NowFunc().UTC()
	if _, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return errors.Wrap(err, "saving password")
	}
	return nil
}

// ListTenantAdmins lists the active admins of a tenant that can be reached.
func (svc *service) ListTenantAdmins(ctx context.Context, tenantID string) ([]notification.Recipient, error) {
	active := true
	admins, err := svc.repo.QueryUsers(ctx, tenantID, &QueryFilter{Roles: []string{RoleAdmin}, IsActive: &active}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying admins")
	}
	recipients := make([]notification.Recipient, 0, len(admins))
	for _, usr := range admins {
		recipients = append(recipients, notification.Recipient{
			UserID: usr.ID,
			Name:   usr.Name,
			Email:  usr.Email,
			Phone:  usr.Phone,
		})
	}
	return recipients, nil
}
