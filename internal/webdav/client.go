// Package webdav is the remote side of sync: a WebDAV client rooted at a
// directory on the server, addressing files by the same logical paths the
// local adapters use.
//
// gowebdav has no context support, so every call runs in its own goroutine
// and is abandoned when ctx ends. The abandoned request still finishes or
// hits Options.Timeout in the background; its result is discarded.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"

	"github.com/flowy-gtd/flowy/internal/fs"
)

// DefaultRemotePath is the server directory holding the synced tree.
const DefaultRemotePath = "/GTD"

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// Options locate the server and the synced tree.
type Options struct {
	URL        string `json:"url"`
	Username   string `json:"username"`
	Password   string `json:"-"`
	RemotePath string `json:"remotePath"`

	// Timeout bounds each HTTP request. Zero means DefaultTimeout.
	Timeout time.Duration `json:"-"`
}

func (o Options) withDefaults() Options {
	if o.RemotePath == "" {
		o.RemotePath = DefaultRemotePath
	}
	o.RemotePath = "/" + strings.Trim(o.RemotePath, "/")
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Client talks to one WebDAV server. It is safe for concurrent use.
type Client struct {
	dav  *gowebdav.Client
	opts Options
}

// New creates a client without contacting the server.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, ErrNoURL
	}
	opts = opts.withDefaults()
	dav := gowebdav.NewClient(opts.URL, opts.Username, opts.Password)
	dav.SetTimeout(opts.Timeout)
	return &Client{dav: dav, opts: opts}, nil
}

// Dial creates a client, checks the server and makes sure the remote
// directory exists. Bad credentials fail with ErrAuth, an unreachable
// server with ErrNetwork.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := c.Probe(ctx); err != nil {
		return nil, err
	}
	if err := c.MkdirAll(ctx, ""); err != nil {
		return nil, err
	}
	return c, nil
}

// Options returns the effective options.
func (c *Client) Options() Options { return c.opts }

// Root returns the remote directory, e.g. "/GTD".
func (c *Client) Root() string { return c.opts.RemotePath }

func (c *Client) remote(p string) string {
	if p == "" {
		return c.opts.RemotePath
	}
	return path.Join(c.opts.RemotePath, p)
}

// Probe checks that the server answers and accepts the credentials.
func (c *Client) Probe(ctx context.Context) error {
	_, err := do(ctx, func() (struct{}, error) {
		if err := c.dav.Connect(); err != nil {
			return struct{}{}, err
		}
		_, err := c.dav.Stat("/")
		return struct{}{}, err
	})
	return classify("check", c.opts.URL, err)
}

// List returns every file below the remote directory, recursively, sorted
// by path. A missing remote directory lists as empty.
func (c *Client) List(ctx context.Context) ([]fs.FileInfo, error) {
	var out []fs.FileInfo
	pending := []string{""}
	for len(pending) > 0 {
		dir := pending[0]
		pending = pending[1:]

		entries, err := do(ctx, func() ([]os.FileInfo, error) {
			return c.dav.ReadDir(c.remote(dir))
		})
		if err != nil {
			err = classify("list", dir, err)
			if dir == "" && fs.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}

		for _, e := range entries {
			p := path.Join(dir, e.Name())
			if e.IsDir() {
				pending = append(pending, p)
				continue
			}
			out = append(out, fileInfo(p, e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Stat describes one remote file.
func (c *Client) Stat(ctx context.Context, p string) (fs.FileInfo, error) {
	fi, err := do(ctx, func() (os.FileInfo, error) {
		return c.dav.Stat(c.remote(p))
	})
	if err != nil {
		return fs.FileInfo{}, classify("stat", p, err)
	}
	return fileInfo(p, fi), nil
}

// Get downloads a file fully into memory.
func (c *Client) Get(ctx context.Context, p string) ([]byte, error) {
	data, err := do(ctx, func() ([]byte, error) {
		return c.dav.Read(c.remote(p))
	})
	if err != nil {
		return nil, classify("get", p, err)
	}
	return data, nil
}

// Put uploads a file, creating missing parent collections.
func (c *Client) Put(ctx context.Context, p string, data []byte) error {
	put := func() error {
		_, err := do(ctx, func() (struct{}, error) {
			return struct{}{}, c.dav.Write(c.remote(p), data, 0o644)
		})
		return classify("put", p, err)
	}

	err := put()
	var e *Error
	missingParent := fs.IsNotFound(err) || (errors.As(err, &e) && e.Status == http.StatusConflict)
	if !missingParent {
		return err
	}
	// Some servers answer a PUT below a missing collection with 404 or 409.
	if err := c.MkdirAll(ctx, path.Dir(p)); err != nil {
		return err
	}
	return put()
}

// Delete removes a file or collection. Deleting a missing path succeeds.
func (c *Client) Delete(ctx context.Context, p string) error {
	if p == "" {
		return &fs.PathError{Op: "delete", Path: p, Err: fs.ErrInvalidPath}
	}
	_, err := do(ctx, func() (struct{}, error) {
		return struct{}{}, c.dav.Remove(c.remote(p))
	})
	err = classify("delete", p, err)
	if fs.IsNotFound(err) {
		return nil
	}
	return err
}

// MkdirAll creates a collection and its parents below the remote root.
func (c *Client) MkdirAll(ctx context.Context, p string) error {
	_, err := do(ctx, func() (struct{}, error) {
		return struct{}{}, c.dav.MkdirAll(c.remote(p), 0o755)
	})
	if err != nil {
		return classify("mkdir", p, err)
	}
	return nil
}

func fileInfo(p string, fi os.FileInfo) fs.FileInfo {
	return fs.FileInfo{
		Name:       path.Base(p),
		Path:       p,
		IsDir:      fi.IsDir(),
		ModifiedAt: fi.ModTime().UnixMilli(),
		Size:       fi.Size(),
	}
}

// do runs fn and returns early when ctx ends.
func do[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("webdav request abandoned: %w", ctx.Err())
	case r := <-ch:
		return r.v, r.err
	}
}
