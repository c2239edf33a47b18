package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db        *sql.DB // nil with the in-memory engine
	logger    core.Logger
	validate  *validator.Validate
	usrRepo   user.Repository
	usrSvc    user.Service
	tenantSvc tenant.Service
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "FieldOps administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}
	root.AddCommand(
		cli.migrateCmd(),
		cli.addUserCmd(),
		cli.resetPasswordCmd(),
		cli.createTenantCmd(),
		cli.resetUsageCmd(),
		cli.recalcStorageCmd(),
	)
	return root
}

// run executes args, args[0] being the program name.
func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	if len(args) > 1 {
		root.SetArgs(args[1:])
	} else {
		root.SetArgs([]string{})
	}
	return root.ExecuteContext(context.Background())
}

// promptPassword reads a password without echoing it; an empty password prints the usage.
func promptPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		_ = cmd.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}

// findTenant looks a tenant up by slug or id.
func (cli *commandLine) findTenant(cmd *cobra.Command, ref string) (tenant.Tenant, error) {
	ctx := cmd.Context()
	t, err := cli.tenantSvc.GetBySlug(ctx, ref)
	if err == tenant.ErrNotFound {
		return cli.tenantSvc.Get(ctx, ref)
	}
	return t, err
}
