package errs_test

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/agent-publisher/pkg/errs"
	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesByKind(t *testing.T) {
	err := errs.ModuleLoad("disk", "/opt/plugins/default/disk/libdisk.so", fs.ErrNotExist)
	wrapped := fmt.Errorf("load plugins: %w", err)

	assert.ErrorIs(t, wrapped, errs.ErrModuleLoad)
	assert.NotErrorIs(t, wrapped, errs.ErrFactory)
	assert.ErrorIs(t, wrapped, fs.ErrNotExist)
	assert.Equal(t, errs.KindModuleLoad, errs.KindOf(wrapped))
	assert.Contains(t, err.Error(), "plugin=disk")
	assert.Contains(t, err.Error(), "libdisk.so")
}

func TestIsFatal(t *testing.T) {
	assert.False(t, errs.IsFatal(nil))
	assert.False(t, errs.IsFatal(errs.Publish("cpu", errors.New("write failed"))))
	assert.True(t, errs.IsFatal(errs.ConfigParse("general.yaml", errors.New("bad"))))
	assert.True(t, errs.IsFatal(errs.ChannelProvision("cpu", errors.New("topic"))))
	assert.True(t, errs.IsFatal(errors.New("plain")))
}
