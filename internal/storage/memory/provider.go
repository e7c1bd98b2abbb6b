package memory

import (
	"bytes"
	"container/list"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/missinggo/v2/resource"
	"github.com/anacrolix/torrent/storage"
)

const defaultMaxBytes int64 = 512 << 20

// Provider keeps torrent piece data in RAM. When the configured budget is
// exceeded the least recently touched blobs are dropped; the torrent client
// re-downloads them on demand.
type Provider struct {
	mu       sync.Mutex
	blobs    map[string]*blob
	lru      *list.List
	maxBytes int64
	curBytes int64
	evicted  int64
}

type blob struct {
	data []byte
	mod  time.Time
	elem *list.Element
}

type ProviderOption func(*Provider)

func WithMaxBytes(max int64) ProviderOption {
	return func(p *Provider) {
		if max > 0 {
			p.maxBytes = max
		}
	}
}

func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		blobs:    make(map[string]*blob),
		lru:      list.New(),
		maxBytes: defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ resource.Provider = (*Provider)(nil)

var _ storage.SizedPutter = (*instance)(nil)

func (p *Provider) NewInstance(name string) (resource.Instance, error) {
	clean, err := cleanPath(name)
	if err != nil {
		return nil, err
	}
	return &instance{provider: p, key: clean}, nil
}

// Usage reports bytes held, the budget and how many blobs were evicted.
func (p *Provider) Usage() (cur, max, evicted int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.curBytes, p.maxBytes, p.evicted
}

type instance struct {
	provider *Provider
	key      string
}

func (i *instance) Get() (io.ReadCloser, error) {
	data, ok := i.provider.snapshot(i.key)
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (i *instance) Put(r io.Reader) error {
	if r == nil {
		return errors.New("nil reader")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	i.provider.store(i.key, data)
	return nil
}

func (i *instance) PutSized(r io.Reader, size int64) error {
	if r == nil {
		return errors.New("nil reader")
	}
	if size < 0 {
		return errors.New("invalid size")
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	i.provider.store(i.key, data)
	return nil
}

func (i *instance) Stat() (os.FileInfo, error) {
	return i.provider.stat(i.key)
}

func (i *instance) ReadAt(b []byte, off int64) (int, error) {
	return i.provider.readAt(i.key, b, off)
}

func (i *instance) WriteAt(b []byte, off int64) (int, error) {
	return i.provider.writeAt(i.key, b, off)
}

func (i *instance) Delete() error {
	i.provider.remove(i.key)
	return nil
}

func (i *instance) Readdirnames() ([]string, error) {
	return i.provider.children(i.key)
}

func (p *Provider) snapshot(key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.blobs[key]
	if !ok {
		return nil, false
	}
	p.lru.MoveToFront(b.elem)
	return append([]byte(nil), b.data...), true
}

func (p *Provider) store(key string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.blobs[key]; ok {
		p.curBytes += int64(len(data) - len(b.data))
		b.data = data
		b.mod = time.Now().UTC()
		p.lru.MoveToFront(b.elem)
	} else {
		p.blobs[key] = &blob{data: data, mod: time.Now().UTC(), elem: p.lru.PushFront(key)}
		p.curBytes += int64(len(data))
	}
	p.evictLocked(key)
}

func (p *Provider) readAt(key string, dst []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.blobs[key]
	if !ok {
		return 0, os.ErrNotExist
	}
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	p.lru.MoveToFront(b.elem)
	n := copy(dst, b.data[off:])
	if n < len(dst) {
		return n, io.EOF
	}
	return n, nil
}

func (p *Provider) writeAt(key string, src []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	end := off + int64(len(src))

	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.blobs[key]
	if !ok {
		b = &blob{elem: p.lru.PushFront(key)}
		p.blobs[key] = b
	}
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		p.curBytes += end - int64(len(b.data))
		b.data = grown
	}
	copy(b.data[off:], src)
	b.mod = time.Now().UTC()
	p.lru.MoveToFront(b.elem)
	p.evictLocked(key)
	return len(src), nil
}

func (p *Provider) remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(key)
}

func (p *Provider) removeLocked(key string) {
	b, ok := p.blobs[key]
	if !ok {
		return
	}
	p.curBytes -= int64(len(b.data))
	p.lru.Remove(b.elem)
	delete(p.blobs, key)
}

func (p *Provider) stat(key string) (os.FileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.blobs[key]; ok {
		return blobInfo{name: path.Base(key), size: int64(len(b.data)), mod: b.mod}, nil
	}
	prefix := key + "/"
	for k := range p.blobs {
		if strings.HasPrefix(k, prefix) {
			return blobInfo{name: path.Base(key), dir: true, mod: time.Now().UTC()}, nil
		}
	}
	return nil, os.ErrNotExist
}

func (p *Provider) children(key string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.blobs[key]; ok {
		return nil, errors.New("not a directory")
	}
	prefix := key + "/"
	seen := make(map[string]struct{})
	for k := range p.blobs {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok || rest == "" {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		seen[name] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, os.ErrNotExist
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// evictLocked drops least recently used blobs until the budget holds. The
// blob being written is never evicted.
func (p *Provider) evictLocked(keep string) {
	for p.curBytes > p.maxBytes {
		back := p.lru.Back()
		if back == nil {
			return
		}
		key := back.Value.(string)
		if key == keep {
			if back.Prev() == nil {
				return
			}
			key = back.Prev().Value.(string)
		}
		p.removeLocked(key)
		p.evicted++
	}
}

type blobInfo struct {
	name string
	size int64
	mod  time.Time
	dir  bool
}

func (m blobInfo) Name() string { return m.name }
func (m blobInfo) Size() int64  { return m.size }
func (m blobInfo) Mode() os.FileMode {
	if m.dir {
		return os.ModeDir | 0o755
	}
	return 0o644
}
func (m blobInfo) ModTime() time.Time { return m.mod }
func (m blobInfo) IsDir() bool        { return m.dir }
func (m blobInfo) Sys() interface{}   { return nil }

func cleanPath(name string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if trimmed == "" {
		return "", errors.New("empty path")
	}
	if strings.HasPrefix(trimmed, "/") || strings.Contains(trimmed, "\x00") {
		return "", errors.New("invalid path")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("invalid path")
	}
	return cleaned, nil
}
