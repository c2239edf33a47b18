package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/user"
)

func (cli *commandLine) addUserCmd() *cobra.Command {
	var (
		tenantRef string
		nu        user.NewUser
	)
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a tenant user, or update the password and roles of an existing one; the password is prompted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tenantRef == "" || (nu.Username == "" && nu.Email == "") {
				_ = cmd.Usage()
				return errHelp
			}
			pwd, err := promptPassword(cmd)
			if err != nil {
				return err
			}
			nu.Password, nu.PasswordConfirm = pwd, pwd

			usr, created, err := cli.addUser(cmd, tenantRef, nu)
			if err != nil {
				return err
			}
			verb := "updated"
			if created {
				verb = "created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s %s (%s)\n", usr.Username, verb, usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantRef, "tenant", "", "the tenant's slug or id")
	cmd.Flags().StringVar(&nu.Name, "name", "", "full name")
	cmd.Flags().StringVar(&nu.Username, "username", "", "username")
	cmd.Flags().StringVar(&nu.Email, "email", "", "email")
	cmd.Flags().StringSliceVar(&nu.Roles, "role", []string{user.RoleAdminOwner}, "roles, repeatable")
	return cmd
}

// addUser updates the user matching nu's username or email, or creates it in the tenant.
// Creating consumes a user seat of the tenant.
func (cli *commandLine) addUser(cmd *cobra.Command, tenantRef string, nu user.NewUser) (user.User, bool, error) {
	ctx := cmd.Context()
	t, err := cli.findTenant(cmd, tenantRef)
	if err != nil {
		return user.User{}, false, err
	}

	lookup := core.CleanString(nu.Username, true /* lower */)
	if lookup == "" {
		lookup = core.CleanString(nu.Email, true /* lower */)
	}
	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, lookup)
	switch {
	case err == user.ErrNotFound:
		if nu.Name == "" {
			nu.Name = nu.Username
		}
		if err = nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
			return user.User{}, false, err
		}
		usr, err = cli.usrSvc.Create(ctx, t.ID, nu)
		return usr, err == nil, err
	case err != nil:
		return user.User{}, false, err
	}

	if usr.TenantID != t.ID {
		return user.User{}, false, fmt.Errorf("user %s belongs to another tenant", usr.Username)
	}
	if len(nu.Roles) > 0 {
		usr.Roles = nu.Roles
	}
	usr.IsActive = true
	if err = usr.SetPassword(nu.Password); err != nil {
		return user.User{}, false, err
	}
	usr, err = cli.usrRepo.UpdateUser(ctx, usr)
	return usr, false, err
}
