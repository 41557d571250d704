package attachment

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_StoreOpenDelete(t *testing.T) {
	fs := afero.NewMemMapFs()
	sink := NewFileSink(fs, "EmailAttachments")
	ctx := context.Background()

	p, err := sink.Store(ctx, "Report.PDF", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "EmailAttachments", filepath.Dir(p))
	assert.True(t, strings.HasSuffix(p, ".pdf"))

	other, err := sink.Store(ctx, "Report.PDF", []byte("%PDF"))
	require.NoError(t, err)
	assert.NotEqual(t, p, other)

	data, err := sink.Open(p)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))

	require.NoError(t, sink.Delete(ctx, p))
	_, err = sink.Open(p)
	assert.Error(t, err)
	assert.NoError(t, sink.Delete(ctx, p))
}

func TestFileSink_StoreFailsOnReadOnlyFs(t *testing.T) {
	sink := NewFileSink(afero.NewReadOnlyFs(afero.NewMemMapFs()), "EmailAttachments")

	_, err := sink.Store(context.Background(), "a.txt", []byte("x"))
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "bin", extension("noext"))
	assert.Equal(t, "gz", extension("archive.tar.gz"))
	assert.Equal(t, "bin", extension("weird. name"))
	assert.Equal(t, "txt", extension("../../etc/notes.TXT"))
}
