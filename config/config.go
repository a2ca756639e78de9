// Package config implements Config (§4.1): a typed key/value store loaded
// from a Java-style .properties file, with hot reload and validation.
package config

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/contentbridge/adaptor/errkind"
	"github.com/contentbridge/adaptor/logging"
)

// Computer transforms a raw stored value into the value getValue returns.
type Computer func(raw string) (string, error)

type keyDef struct {
	defaultValue     string
	hasDefault       bool
	computer         Computer
	requireValidated bool
	enum             []string
}

// ModificationEvent is delivered to listeners after a reload that changed
// at least one effective value and passed validation.
type ModificationEvent struct {
	ModifiedKeys []string
}

// Listener receives config modification events.
type Listener func(ModificationEvent)

// Config is the typed key/value store. The zero value is not usable; use
// New.
type Config struct {
	mu sync.RWMutex

	keys   map[string]*keyDef
	values map[string]string

	source  string
	modTime time.Time

	listeners []Listener

	watcher   *fsnotify.Watcher
	watchOnce sync.Once
	watchStop chan struct{}
}

// New returns an empty Config with no declared keys.
func New() *Config {
	return &Config{
		keys:   make(map[string]*keyDef),
		values: make(map[string]string),
	}
}

// AddKey declares name with an optional default value. Re-declaring a key
// fails with ALREADY_DEFINED.
func (c *Config) AddKey(name string, defaultValue string, hasDefault bool, computer Computer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[name]; ok {
		return errkind.New(errkind.AlreadyDefined, "config: key already declared: "+name)
	}
	c.keys[name] = &keyDef{defaultValue: defaultValue, hasDefault: hasDefault, computer: computer}
	if hasDefault {
		c.values[name] = defaultValue
	}
	return nil
}

// RequireKey marks name as required by validate (missing or blank fails
// INVALID_CONFIGURATION). name must already have been declared via AddKey.
func (c *Config) RequireKey(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.keys[name]
	if !ok {
		return errkind.New(errkind.NotDefined, "config: key not declared: "+name)
	}
	def.requireValidated = true
	return nil
}

// RequireEnum marks name as restricted to one of allowed (validate fails
// INVALID_CONFIGURATION on any other raw value). allowed is matched
// case-sensitively against the raw stored value.
func (c *Config) RequireEnum(name string, allowed ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.keys[name]
	if !ok {
		return errkind.New(errkind.NotDefined, "config: key not declared: "+name)
	}
	def.enum = allowed
	return nil
}

// SetValue overrides name's raw value. Unknown keys fail NOT_DEFINED.
func (c *Config) SetValue(name, raw string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[name]; !ok {
		return errkind.New(errkind.NotDefined, "config: key not declared: "+name)
	}
	c.values[name] = raw
	return nil
}

// GetRawValue returns the stored value for name with no computer applied.
func (c *Config) GetRawValue(name string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.keys[name]; !ok {
		return "", errkind.New(errkind.NotDefined, "config: key not declared: "+name)
	}
	return c.values[name], nil
}

// GetValue returns name's value, passed through its computer if one was
// registered with AddKey.
func (c *Config) GetValue(name string) (string, error) {
	c.mu.RLock()
	def, ok := c.keys[name]
	raw := c.values[name]
	c.mu.RUnlock()
	if !ok {
		return "", errkind.New(errkind.NotDefined, "config: key not declared: "+name)
	}
	if def.computer == nil {
		return raw, nil
	}
	return def.computer(raw)
}

// Snapshot returns a copy of every declared key's current raw value, for
// callers (the dashboard's getConfig RPC) that need a point-in-time view
// without holding the Config's lock.
func (c *Config) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// DeclaredKeys returns the names of every key registered via AddKey, in
// no particular order, for callers (cmd/adaptor's environment-variable
// override layer) that need to enumerate the known configuration
// surface rather than look up one key at a time.
func (c *Config) DeclaredKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.keys))
	for k := range c.keys {
		out = append(out, k)
	}
	return out
}

// Has reports whether name has been declared.
func (c *Config) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keys[name]
	return ok
}

// AddListener registers l to be invoked after a successful reload that
// changed at least one effective value.
func (c *Config) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Load parses a .properties file at path and overlays its values onto the
// current ones (keys the file omits keep their current value). It records
// path as the reload source for
// EnsureLatestConfigLoaded.
func (c *Config) Load(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errkind.Wrap(errkind.InvalidConfiguration, "config: stat source", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return errkind.Wrap(errkind.InvalidConfiguration, "config: open source", err)
	}
	defer f.Close()

	parsed, err := parseProperties(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.source = path
	c.modTime = info.ModTime()
	for k, v := range parsed {
		c.values[k] = v
	}
	c.mu.Unlock()
	return nil
}

// EnsureLatestConfigLoaded re-reads Source's file iff its mtime has
// advanced since the last load, and emits exactly one ModificationEvent to
// registered listeners iff the reload changed at least one effective value
// and validation succeeds. On validation failure the in-memory state is
// left unchanged.
func (c *Config) EnsureLatestConfigLoaded() error {
	c.mu.RLock()
	source := c.source
	lastMod := c.modTime
	c.mu.RUnlock()
	if source == "" {
		return nil
	}

	info, err := os.Stat(source)
	if err != nil {
		return errkind.Wrap(errkind.InvalidConfiguration, "config: stat source", err)
	}
	if !info.ModTime().After(lastMod) {
		return nil
	}

	f, err := os.Open(source)
	if err != nil {
		return errkind.Wrap(errkind.InvalidConfiguration, "config: open source", err)
	}
	parsed, err := parseProperties(f)
	f.Close()
	if err != nil {
		return err
	}

	c.mu.Lock()
	before := make(map[string]string, len(c.values))
	for k, v := range c.values {
		before[k] = v
	}
	candidate := make(map[string]string, len(c.values))
	for k, v := range c.values {
		candidate[k] = v
	}
	for k, v := range parsed {
		candidate[k] = v
	}

	modified := diffKeys(before, candidate)
	if len(modified) == 0 {
		c.modTime = info.ModTime()
		c.mu.Unlock()
		return nil
	}

	// validate against the candidate view before committing.
	if err := c.validateLocked(candidate); err != nil {
		c.mu.Unlock()
		return err
	}

	c.values = candidate
	c.modTime = info.ModTime()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	logging.Logger().WithField("modifiedKeys", modified).Info("config: reloaded")
	for _, l := range listeners {
		l(ModificationEvent{ModifiedKeys: modified})
	}
	return nil
}

// WatchForChanges starts an fsnotify watch on the directory containing
// Source and calls EnsureLatestConfigLoaded whenever that file is written.
// Stop cancels the watch. Calling WatchForChanges more than once is a
// no-op after the first call.
func (c *Config) WatchForChanges() error {
	c.mu.RLock()
	source := c.source
	c.mu.RUnlock()
	if source == "" {
		return errkind.New(errkind.InvalidState, "config: WatchForChanges called before Load")
	}

	var watchErr error
	c.watchOnce.Do(func() {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			watchErr = errkind.Wrap(errkind.Unavailable, "config: start fsnotify watcher", err)
			return
		}
		dir := dirOf(source)
		if err := w.Add(dir); err != nil {
			w.Close()
			watchErr = errkind.Wrap(errkind.Unavailable, "config: watch config directory", err)
			return
		}
		c.watcher = w
		c.watchStop = make(chan struct{})
		go c.watchLoop(source)
	})
	return watchErr
}

func (c *Config) watchLoop(source string) {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != source {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := c.EnsureLatestConfigLoaded(); err != nil {
				logging.Logger().WithError(err).Warn("config: reload on file change failed")
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			logging.Logger().WithError(err).Warn("config: watcher error")
		case <-c.watchStop:
			return
		}
	}
}

// Stop releases the fsnotify watch, if one was started.
func (c *Config) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher == nil {
		return
	}
	close(c.watchStop)
	c.watcher.Close()
	c.watcher = nil
}

// Validate fails with INVALID_CONFIGURATION when a required key is
// missing/blank or an enum key carries an unrecognized token.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validateLocked(c.values)
}

func (c *Config) validateLocked(values map[string]string) error {
	for name, def := range c.keys {
		if def.requireValidated {
			if v, ok := values[name]; !ok || v == "" {
				return errkind.New(errkind.InvalidConfiguration, "config: required key missing or blank: "+name)
			}
		}
		if len(def.enum) > 0 {
			v := values[name]
			valid := false
			for _, allowed := range def.enum {
				if v == allowed {
					valid = true
					break
				}
			}
			if !valid {
				return errkind.New(errkind.InvalidConfiguration, "config: key "+name+" has unrecognized value: "+v)
			}
		}
	}
	return nil
}

func diffKeys(before, after map[string]string) []string {
	var modified []string
	seen := make(map[string]struct{})
	for k, v := range after {
		if before[k] != v {
			if _, ok := seen[k]; !ok {
				modified = append(modified, k)
				seen[k] = struct{}{}
			}
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			if _, ok := seen[k]; !ok {
				modified = append(modified, k)
				seen[k] = struct{}{}
			}
		}
	}
	sort.Strings(modified)
	return modified
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
