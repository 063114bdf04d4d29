// Package placeholder expands %name% tokens against a recipient and the live
// viewer directory.
package placeholder

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/framecast/pkg/anim"
)

var _ anim.PlaceholderResolver = (*Resolver)(nil)

// Directory is the view of connected viewers placeholders read from.
type Directory interface {
	anim.Directory

	// WorldOf returns the world r is in, or false if r is not connected.
	WorldOf(r anim.Recipient) (string, bool)
}

// Func computes a placeholder value for r.
type Func func(r anim.Recipient) string

// Option configures a [Resolver].
type Option func(*Resolver)

// WithClock overrides the time source for %server_time%.
func WithClock(now func() time.Time) Option {
	return func(res *Resolver) { res.now = now }
}

// WithTimeFormat sets the layout of %server_time%. Default: "15:04:05".
func WithTimeFormat(layout string) Option {
	return func(res *Resolver) { res.timeFormat = layout }
}

// Resolver expands placeholders. Built-ins are registered by [New]; callers
// may add more with [Resolver.Register]. It is safe for concurrent use.
type Resolver struct {
	mu    sync.RWMutex
	funcs map[string]Func

	dir        Directory
	now        func() time.Time
	timeFormat string
}

// New returns a resolver with the built-in placeholders. dir may be nil, in
// which case directory placeholders resolve to empty values.
func New(dir Directory, opts ...Option) *Resolver {
	res := &Resolver{
		funcs:      make(map[string]Func),
		dir:        dir,
		now:        time.Now,
		timeFormat: "15:04:05",
	}
	for _, o := range opts {
		o(res)
	}

	res.funcs["recipient_name"] = func(r anim.Recipient) string { return r.Name }
	res.funcs["recipient_id"] = func(r anim.Recipient) string { return r.ID }
	res.funcs["recipient_world"] = func(r anim.Recipient) string {
		if res.dir == nil {
			return ""
		}
		w, _ := res.dir.WorldOf(r)
		return w
	}
	res.funcs["online"] = func(anim.Recipient) string {
		if res.dir == nil {
			return "0"
		}
		return strconv.Itoa(len(res.dir.Online()))
	}
	res.funcs["world_online"] = func(r anim.Recipient) string {
		if res.dir == nil {
			return "0"
		}
		w, ok := res.dir.WorldOf(r)
		if !ok {
			return "0"
		}
		return strconv.Itoa(len(res.dir.InWorld(w)))
	}
	res.funcs["server_time"] = func(anim.Recipient) string { return res.now().Format(res.timeFormat) }
	return res
}

// Register adds or replaces the placeholder name.
func (res *Resolver) Register(name string, fn Func) {
	res.mu.Lock()
	defer res.mu.Unlock()
	res.funcs[strings.ToLower(name)] = fn
}

// Names returns the registered placeholder names, sorted.
func (res *Resolver) Names() []string {
	res.mu.RLock()
	defer res.mu.RUnlock()
	return slices.Sorted(maps.Keys(res.funcs))
}

// Lookup returns the value of one placeholder for r.
func (res *Resolver) Lookup(name string, r anim.Recipient) (string, bool) {
	res.mu.RLock()
	fn, ok := res.funcs[strings.ToLower(name)]
	res.mu.RUnlock()
	if !ok {
		return "", false
	}
	return fn(r), true
}

// Resolve implements [anim.PlaceholderResolver]. Unknown placeholders and
// lone percent signs are left as written.
func (res *Resolver) Resolve(template string, r anim.Recipient) string {
	if strings.IndexByte(template, '%') < 0 {
		return template
	}
	var b strings.Builder
	b.Grow(len(template))
	for {
		start := strings.IndexByte(template, '%')
		if start < 0 {
			b.WriteString(template)
			return b.String()
		}
		end := strings.IndexByte(template[start+1:], '%')
		if end < 0 {
			b.WriteString(template)
			return b.String()
		}
		end += start + 1
		name := template[start+1 : end]
		if validName(name) {
			if v, ok := res.Lookup(name, r); ok {
				b.WriteString(template[:start])
				b.WriteString(v)
				template = template[end+1:]
				continue
			}
		}
		// Not a placeholder: keep the first percent and rescan from the second.
		b.WriteString(template[:end])
		template = template[end:]
	}
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.', c == '-':
		default:
			return false
		}
	}
	return true
}
