package harvest

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadErrorMessages(t *testing.T) {
	t.Parallel()

	status := &DownloadError{Kind: KindHTTPStatus, URL: "https://img.test/a", StatusCode: 404}
	assert.Equal(t, "http-status https://img.test/a: status 404", status.Error())
	assert.NoError(t, status.Unwrap())

	cause := errors.New("connection refused")
	transport := &DownloadError{Kind: KindTransport, URL: "https://img.test/a", Err: cause}
	assert.Equal(t, "transport https://img.test/a: connection refused", transport.Error())
	assert.ErrorIs(t, transport, cause)
}

func TestStorageErrorChain(t *testing.T) {
	t.Parallel()

	storageErr := &StorageError{Kind: StorageWrite, Term: "sun", Path: "/data/sun/abc.jpg", Err: fs.ErrPermission}
	wrapped := &DownloadError{Kind: KindStorage, URL: "https://img.test/a", Err: fmt.Errorf("write: %w", storageErr)}

	var target *StorageError
	require.ErrorAs(t, wrapped, &target)
	assert.Equal(t, StorageWrite, target.Kind)
	assert.ErrorIs(t, wrapped, fs.ErrPermission)
	assert.Contains(t, storageErr.Error(), "/data/sun/abc.jpg")

	mkdir := &StorageError{Kind: StorageMkdir, Term: "sun", Err: fs.ErrExist}
	assert.Equal(t, `storage mkdir term "sun": file already exists`, mkdir.Error())
}

func TestDiscoveryError(t *testing.T) {
	t.Parallel()

	cause := errors.New("timeout")
	err := fmt.Errorf("orchestrate: %w", &DiscoveryError{Term: "sun", Err: cause})

	var target *DiscoveryError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "sun", target.Term)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, `discover "sun": timeout`, target.Error())
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"sun", "black hole", "Überraschung", "a.b"} {
		assert.NoError(t, ValidateName(ok), ok)
	}
	for _, bad := range []string{"", "  ", ".", "..", "a/b", `a\b`, "a\x00b"} {
		assert.Error(t, ValidateName(bad), bad)
	}
}
