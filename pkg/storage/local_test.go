package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageWriteListDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir(), PublicURL: "/vod/"})
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "vod/v1/vp9_480p.webm", strings.NewReader("webm"), 4, "video/webm"))
	require.NoError(t, s.Write(ctx, "vod/v1/h264_480p.mp4", strings.NewReader("mp4"), -1, "video/mp4"))

	ok, err := s.Exists(ctx, "vod/v1/vp9_480p.webm")
	require.NoError(t, err)
	assert.True(t, ok)

	files, err := s.List(ctx, "vod/v1")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	url, err := s.URL(ctx, "vod/v1/h264_480p.mp4", 0)
	require.NoError(t, err)
	assert.Equal(t, "/vod/vod/v1/h264_480p.mp4", url)

	require.NoError(t, s.DeletePrefix(ctx, "vod/v1"))
	files, err = s.List(ctx, "vod/v1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	assert.Error(t, s.DeletePrefix(context.Background(), "../.."))
}
