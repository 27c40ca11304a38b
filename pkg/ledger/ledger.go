// Package ledger persists the attributes of provisioned resources across
// runs. The on-disk format is line-oriented shell assignments
// (export KEY="VALUE") so the file stays sourceable by the SSH/kubectl/CI
// tooling that has always consumed deployment-info.txt.
//
// The ledger is a cache, not a source of truth: every entry must be
// re-derivable by probing the provider with the deterministic resource name.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get for unknown resource names.
var ErrNotFound = errors.New("ledger entry not found")

// Ledger is the durable key->attributes store shared by the reconciler,
// executor and teardown planner. Implementations must survive process
// restarts and interrupted writes.
type Ledger interface {
	// Upsert overwrites the entry for name. Last write wins.
	Upsert(name string, attributes map[string]string) error

	// Get returns the attributes recorded for name, or ErrNotFound.
	Get(name string) (map[string]string, error)

	// Delete removes the entry for name. Deleting an absent entry is a no-op.
	Delete(name string) error

	// Snapshot returns a copy of all entries.
	Snapshot() (map[string]map[string]string, error)
}

// FileLedger stores entries in a single shell-sourceable file. Writes replace
// the file atomically (write temp, rename) so a reader never observes a
// half-written ledger even if a pass is interrupted mid-write.
type FileLedger struct {
	mu   sync.Mutex
	path string
}

// NewFileLedger opens (or lazily creates) the ledger at path.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// Path returns the ledger file location.
func (l *FileLedger) Path() string { return l.path }

// Upsert implements Ledger.
func (l *FileLedger) Upsert(name string, attributes map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return err
	}
	copied := make(map[string]string, len(attributes))
	for k, v := range attributes {
		copied[k] = v
	}
	entries[name] = copied
	return l.store(entries)
}

// Get implements Ledger.
func (l *FileLedger) Get(name string) (map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	attrs, ok := entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return attrs, nil
}

// Delete implements Ledger.
func (l *FileLedger) Delete(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return err
	}
	if _, ok := entries[name]; !ok {
		return nil
	}
	delete(entries, name)
	return l.store(entries)
}

// Snapshot implements Ledger.
func (l *FileLedger) Snapshot() (map[string]map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// keyPattern matches export lines: export NAME__ATTR="value"
var keyPattern = regexp.MustCompile(`^export\s+([A-Z0-9_]+)__([A-Z0-9_]+)="(.*)"$`)

func (l *FileLedger) load() (map[string]map[string]string, error) {
	entries := make(map[string]map[string]string)

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := keyPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := decodeToken(m[1])
		attr := strings.ToLower(m[2])
		if entries[name] == nil {
			entries[name] = make(map[string]string)
		}
		entries[name][attr] = unescape(m[3])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return entries, nil
}

func (l *FileLedger) store(entries map[string]map[string]string) error {
	var b strings.Builder
	b.WriteString("# Deployment ledger - generated by kubeforge, do not edit by hand.\n")
	b.WriteString("# Source this file to export resource attributes into the shell.\n")

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		attrs := entries[name]
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "export %s__%s=\"%s\"\n", encodeToken(name), strings.ToUpper(k), escape(attrs[k]))
		}
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp ledger: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod ledger: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

// encodeToken maps a resource name to a shell-safe variable token:
// k8s-kubeadm-master -> K8S_KUBEADM_MASTER.
func encodeToken(name string) string {
	token := strings.ToUpper(name)
	token = strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(token)
	return token
}

// decodeToken reverses encodeToken to the canonical dashed resource name.
// The mapping loses the distinction between - . and /, which is acceptable
// because descriptor names only use dashes.
func decodeToken(token string) string {
	return strings.ToLower(strings.ReplaceAll(token, "_", "-"))
}

// escape makes a value safe inside a double-quoted shell assignment. The
// shell-significant bytes get backslash-escaped, which the shell itself
// reverses when the file is sourced; control bytes and the percent sign are
// percent-encoded so the file stays strictly line-oriented. unescape reverses
// this exactly, so Upsert followed by Get returns the value byte for byte.
func escape(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c == '\\' || c == '"' || c == '$' || c == '`':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '%' || c < 0x20 || c == 0x7f:
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func unescape(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c == '\\' && i+1 < len(v):
			i++
			b.WriteByte(v[i])
		case c == '%' && i+2 < len(v):
			if n, err := strconv.ParseUint(v[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(n))
				i += 2
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
