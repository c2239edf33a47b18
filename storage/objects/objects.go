// Package objects holds the blob stores used for attachments.
package objects

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/fieldops/core"
)

// New returns the ObjectStore selected by conf.Storage.Backend.
func New(ctx context.Context, conf *core.Config) (core.ObjectStore, error) {
	var (
		store core.ObjectStore
		err   error
	)
	switch conf.Storage.Backend {
	case "s3":
		store, err = NewS3Store(ctx, conf.Storage)
	case "minio":
		store, err = NewMinioStore(conf.Storage)
	case "memory", "":
		store = NewMemoryStore()
	default:
		return nil, errors.Errorf("unknown storage backend %q", conf.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}
	if p := strings.Trim(conf.Storage.Prefix, "/"); p != "" {
		store = &prefixed{store: store, prefix: p}
	}
	return store, nil
}

// prefixed nests every key under a fixed prefix.
type prefixed struct {
	store  core.ObjectStore
	prefix string
}

var _ core.ObjectStore = (*prefixed)(nil)

func (p *prefixed) key(k string) string { return p.prefix + "/" + strings.TrimLeft(k, "/") }

func (p *prefixed) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return p.store.Put(ctx, p.key(key), r, size, contentType)
}

func (p *prefixed) Get(ctx context.Context, key string) (io.ReadCloser, core.ObjectInfo, error) {
	rc, info, err := p.store.Get(ctx, p.key(key))
	info.Key = key
	return rc, info, err
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.store.Delete(ctx, p.key(key))
}

func (p *prefixed) Usage(ctx context.Context, prefix string) (int64, error) {
	return p.store.Usage(ctx, p.key(prefix))
}
