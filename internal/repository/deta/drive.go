// Package deta implements repository.BlobStore on Deta Drive.
//
// The transport is the official SDK (github.com/deta/deta-go). This package
// adds what the SDK leaves out:
//   - contexts and a per-call deadline (the SDK calls take none)
//   - the not-found mapping to apperror.ErrNotFound
//   - the repository.BlobStore method set
package deta

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	detasdk "github.com/deta/deta-go/deta"
	"github.com/deta/deta-go/service/drive"

	"github.com/sakif/code-inbox/internal/apperror"
	"github.com/sakif/code-inbox/internal/repository"
)

// DefaultTimeout bounds one Drive call when New gets no timeout.
const DefaultTimeout = 20 * time.Second

var _ repository.BlobStore = (*Drive)(nil)

// files is the part of *drive.Drive we call.
type files interface {
	Put(i *drive.PutInput) (string, error)
	Get(name string) (io.ReadCloser, error)
	Delete(name string) (string, error)
}

// Drive is one named Deta Drive.
type Drive struct {
	files   files
	timeout time.Duration
}

// New returns a store for the drive called name. Every call is bounded by
// timeout; zero means DefaultTimeout.
func New(projectKey, name string, timeout time.Duration) (*Drive, error) {
	d, err := detasdk.New(detasdk.WithProjectKey(projectKey))
	if err != nil {
		return nil, fmt.Errorf("deta: configuring project: %w", err)
	}
	fs, err := drive.New(d, name)
	if err != nil {
		return nil, fmt.Errorf("deta: opening drive %s: %w", name, err)
	}
	return newDrive(fs, timeout), nil
}

func newDrive(fs files, timeout time.Duration) *Drive {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Drive{files: fs, timeout: timeout}
}

// Put uploads the object under key, replacing any previous one. The body is
// read fully first, so an abandoned call never reads from r again.
func (d *Drive) Put(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("deta: reading blob %s: %w", key, err)
	}

	_, err = call(ctx, d.timeout, func() (string, error) {
		return d.files.Put(&drive.PutInput{
			Name:        key,
			Body:        bytes.NewReader(data),
			ContentType: "application/octet-stream",
		})
	})
	if err != nil {
		return classify("uploading "+key, key, err)
	}
	return nil
}

// Get downloads key. A missing file is apperror.ErrNotFound. The caller
// closes the reader.
func (d *Drive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := call(ctx, d.timeout, func() (io.ReadCloser, error) {
		return d.files.Get(key)
	})
	if err != nil {
		return nil, classify("downloading "+key, key, err)
	}
	return rc, nil
}

// Delete removes key. Deleting a missing file is not an error.
func (d *Drive) Delete(ctx context.Context, key string) error {
	_, err := call(ctx, d.timeout, func() (string, error) {
		return d.files.Delete(key)
	})
	if err != nil && !errors.Is(err, detasdk.ErrNotFound) {
		return classify("deleting "+key, key, err)
	}
	return nil
}

// call runs fn and gives up when ctx or the timeout ends first. The SDK
// cannot be cancelled, so an abandoned fn finishes on its own goroutine.
func call[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func classify(op, key string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperror.UpstreamTimeout("deta", err)
	case errors.Is(err, detasdk.ErrNotFound):
		return apperror.NotFound("file", key)
	}
	return apperror.Internal(fmt.Sprintf("deta: %s", op), err)
}
