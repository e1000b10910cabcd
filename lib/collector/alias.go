package collector

import "sync"

// AliasResolver binds a user-chosen alias to the first URL it resolved to.
// A binding never changes for the lifetime of the resolver.
type AliasResolver struct {
	mu    sync.Mutex
	bound map[string]string
}

func NewAliasResolver() *AliasResolver {
	return &AliasResolver{bound: make(map[string]string)}
}

// Resolve returns the canonical URL for a page observed at observedURL under
// alias. An empty alias resolves to observedURL. The first call for an alias
// binds it; later calls return the bound URL whatever they observed.
func (r *AliasResolver) Resolve(alias, observedURL string) string {
	if alias == "" {
		return observedURL
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.bound[alias]; ok {
		return u
	}
	r.bound[alias] = observedURL
	return observedURL
}

// Lookup returns the bound URL for alias without binding it.
func (r *AliasResolver) Lookup(alias string) (string, bool) {
	if alias == "" {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.bound[alias]
	return u, ok
}

// ActualURLMap remembers which canonical URL a navigated ("actual") URL
// belongs to, so data keyed by the actual URL can be attributed later.
type ActualURLMap struct {
	mu sync.Mutex
	m  map[string]string
}

func NewActualURLMap() *ActualURLMap {
	return &ActualURLMap{m: make(map[string]string)}
}

// Remember maps actual to canonical. Identical URLs are not stored.
func (a *ActualURLMap) Remember(actual, canonical string) {
	if actual == "" || actual == canonical {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m[actual] = canonical
}

// Canonical returns the canonical URL for url, or url itself if it was never
// seen as an actual URL.
func (a *ActualURLMap) Canonical(url string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.m[url]; ok {
		return c
	}
	return url
}
