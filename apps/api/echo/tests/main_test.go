package tests

import (
	"os"
	"testing"

	"github.com/trezcool/fieldops/appfs"
	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/user"
)

func TestMain(m *testing.M) {
	core.ParseEmailTemplates(core.NewTestConfig(), appfs.FS, core.NopLogger{})
	user.LoadCommonPasswords(appfs.FS, core.NopLogger{})

	os.Exit(m.Run())
}
