package attachment_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/attachment"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/workorder"
	inmemdb "github.com/trezcool/fieldops/storage/database/inmem"
	"github.com/trezcool/fieldops/storage/objects"
)

type workOrders map[string]workorder.WorkOrder

func (w workOrders) Get(_ context.Context, tenantID, id string) (workorder.WorkOrder, error) {
	if wo, ok := w[id]; ok && wo.TenantID == tenantID {
		return wo, nil
	}
	return workorder.WorkOrder{}, workorder.ErrNotFound
}

type testEnv struct {
	svc     attachment.Service
	store   *objects.MemoryStore
	tenants tenant.Service
	tid     string
}

func setup(t *testing.T, storageLimit int64) testEnv {
	t.Helper()
	ctx := context.Background()
	db := inmemdb.Open()

	env := testEnv{store: objects.NewMemoryStore()}
	env.tenants = tenant.NewService(inmemdb.NewTenantRepository(db), nil, nil, nil, core.NopLogger{})
	tnt, err := env.tenants.Create(ctx, tenant.NewTenant{Name: "Acme", Slug: "acme", Timezone: "UTC", Plan: tenant.PlanBasic})
	require.NoError(t, err)
	env.tid = tnt.ID

	limits := tenant.PlanLimits(tenant.PlanBasic)
	limits.StorageBytes = storageLimit
	_, err = env.tenants.ChangePlan(ctx, env.tid, tenant.ChangePlan{Plan: tenant.PlanBasic, Limits: &limits})
	require.NoError(t, err)

	wos := workOrders{"wo-1": {ID: "wo-1", TenantID: env.tid, Number: "WO-000001"}}
	env.svc = attachment.NewService(inmemdb.NewAttachmentRepository(db), env.store, env.tenants, wos, core.NopLogger{})
	return env
}

func storageUsage(t *testing.T, env testEnv) int64 {
	t.Helper()
	tnt, err := env.tenants.Get(context.Background(), env.tid)
	require.NoError(t, err)
	return tnt.Usage.StorageBytes
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "report.pdf", want: "report.pdf"},
		{name: "  ../../etc/passwd ", want: "passwd"},
		{name: `C:\Users\ada\photo.jpg`, want: "photo.jpg"},
		{name: "what?#100%.txt", want: "what__100_.txt"},
		{name: "bad\x00name.txt", want: "badname.txt"},
		{name: "/", want: ""},
		{name: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, attachment.SanitizeName(tt.name))
		})
	}
}

func TestService_Upload(t *testing.T) {
	ctx := context.Background()
	env := setup(t, 1024)

	content := []byte("%PDF-1.4\n% inspection report\n")
	a, err := env.svc.Upload(ctx, env.tid, "u-ada", attachment.Upload{
		WorkOrderID: "wo-1",
		Name:        "report.pdf",
		Size:        int64(len(content)),
		Content:     bytes.NewReader(content),
	})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", a.ContentType)
	assert.Equal(t, attachment.ObjectKey(env.tid, a.ID, "report.pdf"), a.Key)
	assert.True(t, strings.HasPrefix(a.Key, tenant.StoragePrefix(env.tid)))
	assert.EqualValues(t, len(content), storageUsage(t, env))

	rc, got, err := env.svc.Download(ctx, env.tid, a.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.Equal(t, a.ID, got.ID)

	list, err := env.svc.List(ctx, env.tid, "wo-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	t.Run("unknown work order", func(t *testing.T) {
		_, err := env.svc.Upload(ctx, env.tid, "u-ada", attachment.Upload{WorkOrderID: "wo-2", Name: "a.txt", Size: 1, Content: strings.NewReader("a")})
		assert.ErrorIs(t, err, workorder.ErrNotFound)
	})

	t.Run("size mismatch", func(t *testing.T) {
		_, err := env.svc.Upload(ctx, env.tid, "u-ada", attachment.Upload{WorkOrderID: "wo-1", Name: "a.txt", Size: 2, Content: strings.NewReader("abcdef")})
		assert.ErrorIs(t, err, attachment.ErrSizeMismatch)
		assert.EqualValues(t, len(content), storageUsage(t, env))

		usage, err := env.store.Usage(ctx, tenant.StoragePrefix(env.tid))
		require.NoError(t, err)
		assert.EqualValues(t, len(content), usage)
	})

	t.Run("storage limit", func(t *testing.T) {
		big := bytes.Repeat([]byte("x"), 1024)
		_, err := env.svc.Upload(ctx, env.tid, "u-ada", attachment.Upload{WorkOrderID: "wo-1", Name: "big.bin", Size: int64(len(big)), Content: bytes.NewReader(big)})
		var lErr *tenant.LimitError
		require.True(t, errors.As(err, &lErr), "Upload() error = %v, want *LimitError", err)
		assert.EqualValues(t, len(content), storageUsage(t, env))
	})
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	env := setup(t, tenant.Unlimited)

	a, err := env.svc.Upload(ctx, env.tid, "u-ada", attachment.Upload{WorkOrderID: "wo-1", Name: "notes.txt", Size: 5, Content: strings.NewReader("hello")})
	require.NoError(t, err)

	assert.ErrorIs(t, env.svc.Delete(ctx, "other", a.ID), attachment.ErrNotFound)

	require.NoError(t, env.svc.Delete(ctx, env.tid, a.ID))
	_, err = env.svc.Get(ctx, env.tid, a.ID)
	assert.ErrorIs(t, err, attachment.ErrNotFound)
	_, _, err = env.store.Get(ctx, a.Key)
	assert.True(t, core.IsNotFound(err))
	assert.Zero(t, storageUsage(t, env))
}

type failingRepo struct {
	attachment.Repository
}

func (failingRepo) CreateAttachment(context.Context, attachment.Attachment) (attachment.Attachment, error) {
	return attachment.Attachment{}, errors.New("connection reset")
}

func TestService_UploadSaveFails(t *testing.T) {
	ctx := context.Background()
	env := setup(t, 1024)
	wos := workOrders{"wo-1": {ID: "wo-1", TenantID: env.tid, Number: "WO-000001"}}
	svc := attachment.NewService(failingRepo{inmemdb.NewAttachmentRepository(inmemdb.Open())}, env.store, env.tenants, wos, core.NopLogger{})

	_, err := svc.Upload(ctx, env.tid, "u-ada", attachment.Upload{WorkOrderID: "wo-1", Name: "notes.txt", Size: 5, Content: strings.NewReader("hello")})
	require.Error(t, err)

	usage, err := env.store.Usage(ctx, tenant.StoragePrefix(env.tid))
	require.NoError(t, err)
	assert.Zero(t, usage)
	assert.Zero(t, storageUsage(t, env))
}
