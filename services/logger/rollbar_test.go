package logsvc

import (
	"bytes"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/user"
)

func TestLogger(t *testing.T) {
	var out bytes.Buffer
	logger := NewRollbarLogger(log.New(&out, "TEST : ", 0), core.NewTestConfig())

	usr := user.User{ID: "u1", Username: "ann"}
	args := logger.prepare("msg", []interface{}{errors.New("boom"), usr, map[string]interface{}{"k": 1}})
	assert.Len(t, args, 3, "the user is not forwarded as an arg")
	assert.Equal(t, "msg", args[0])

	logger.Warn("disk almost full", errors.New("boom"), usr)
	assert.Contains(t, out.String(), "[WARN] disk almost full")
	assert.Contains(t, out.String(), "boom")
	assert.NotContains(t, out.String(), "ann")
}
