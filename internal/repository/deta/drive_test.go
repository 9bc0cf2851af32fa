package deta

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	detasdk "github.com/deta/deta-go/deta"
	"github.com/deta/deta-go/service/drive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-inbox/internal/apperror"
)

// fakeFiles is an in-memory stand-in for *drive.Drive.
type fakeFiles struct {
	mu    sync.Mutex
	files map[string][]byte
	types []string // ContentType per Put
	err   error
	stall chan struct{}
}

func newFakeFiles() *fakeFiles { return &fakeFiles{files: map[string][]byte{}} }

func (f *fakeFiles) wait() {
	if f.stall != nil {
		<-f.stall
	}
}

func (f *fakeFiles) Put(i *drive.PutInput) (string, error) {
	f.wait()
	if f.err != nil {
		return "", f.err
	}
	b, err := io.ReadAll(i.Body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[i.Name] = b
	f.types = append(f.types, i.ContentType)
	return i.Name, nil
}

func (f *fakeFiles) Get(name string) (io.ReadCloser, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[name]
	if !ok {
		return nil, detasdk.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeFiles) Delete(name string) (string, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[name]; !ok {
		return "", detasdk.ErrNotFound
	}
	delete(f.files, name)
	return name, nil
}

func TestNew_RejectsMalformedKey(t *testing.T) {
	_, err := New("nounderscore", "profile-images", 0)
	assert.Error(t, err)
}

func TestDrive_RoundTrip(t *testing.T) {
	fake := newFakeFiles()
	d := newDrive(fake, time.Second)
	ctx := context.Background()

	require.NoError(t, d.Put(ctx, "user/abc/profile.png", strings.NewReader("img")))
	assert.Equal(t, []string{"application/octet-stream"}, fake.types)

	rc, err := d.Get(ctx, "user/abc/profile.png")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "img", string(b))

	require.NoError(t, d.Delete(ctx, "user/abc/profile.png"))
	_, err = d.Get(ctx, "user/abc/profile.png")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestDrive_DeleteMissingIsNoop(t *testing.T) {
	d := newDrive(newFakeFiles(), time.Second)
	assert.NoError(t, d.Delete(context.Background(), "never-stored"))
}

func TestDrive_UpstreamFailure(t *testing.T) {
	fake := newFakeFiles()
	fake.err = errors.New("deta: 500 internal server error")
	d := newDrive(fake, time.Second)

	err := d.Put(context.Background(), "k", strings.NewReader("x"))
	assert.True(t, errors.Is(err, apperror.ErrInternal), "got %v", err)
}

func TestDrive_StalledCallIsBounded(t *testing.T) {
	fake := newFakeFiles()
	fake.stall = make(chan struct{})
	defer close(fake.stall)
	d := newDrive(fake, 50*time.Millisecond)

	start := time.Now()
	_, err := d.Get(context.Background(), "k")

	assert.True(t, errors.Is(err, apperror.ErrUpstreamTimeout), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}
