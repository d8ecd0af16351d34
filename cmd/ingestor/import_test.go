package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(root, n)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(n), 0o644))
	}
}

func TestFindImages(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"b.JPG",
		"a.png",
		"notes.txt",
		"sub/c.jpeg",
		".thumbs/d.jpg",
		"e.heic",
	)

	files, err := findImages(root, []string{"image/jpeg", "image/png", "image/heic"})
	require.NoError(t, err)

	var got []string
	for _, f := range files {
		rel, _ := filepath.Rel(root, f.path)
		got = append(got, rel+"="+f.contentType)
	}
	assert.Equal(t, []string{
		"a.png=image/png",
		"b.JPG=image/jpeg",
		"e.heic=image/heic",
		filepath.Join("sub", "c.jpeg") + "=image/jpeg",
	}, got)
}

func TestFindImages_MissingDir(t *testing.T) {
	_, err := findImages(filepath.Join(t.TempDir(), "nope"), []string{"image/jpeg"})
	assert.Error(t, err)
}

type fakeKeys struct{}

func (f *fakeKeys) NewKey(_ context.Context, name string) (string, error) {
	return "uploads/" + name, nil
}

type fakePutter struct {
	mu   sync.Mutex
	objs map[string]string
	fail string
}

func (f *fakePutter) PutObject(_ context.Context, key string, data []byte, ct string) error {
	if key == f.fail {
		return errors.New("bucket full")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objs[key] = ct
	return nil
}

func TestUploadBatch(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "one.jpg", "two.png")
	files := []imageFile{
		{path: filepath.Join(root, "one.jpg"), contentType: "image/jpeg"},
		{path: filepath.Join(root, "two.png"), contentType: "image/png"},
	}

	put := &fakePutter{objs: map[string]string{}}
	keys, err := uploadBatch(context.Background(), &fakeKeys{}, put, files, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"uploads/one.jpg", "uploads/two.png"}, keys)
	assert.Equal(t, "image/png", put.objs["uploads/two.png"])

	put.fail = "uploads/two.png"
	_, err = uploadBatch(context.Background(), &fakeKeys{}, put, files, 1)
	assert.Error(t, err)
}
