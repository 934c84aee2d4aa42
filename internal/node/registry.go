// Package node exposes exported buttons as a file tree, one value file per
// button, and accepts export/unexport requests through control files in the
// same tree.
//
//	<root>/export          write a pin number to export it
//	<root>/unexport        write a pin number to unexport it
//	<root>/button<N>/value "1\n" while pressed, "0\n" otherwise
package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sweeney/ac-button/internal/button"
)

// DefaultRoot is where the tree lives unless configured otherwise.
const DefaultRoot = "/run/ac_button"

// ValueMode is the permission of a freshly registered value file. The admin
// tool widens it to world readable.
const ValueMode os.FileMode = 0o440

// ExportPath returns the export control file.
func ExportPath(root string) string {
	return filepath.Join(root, "export")
}

// UnexportPath returns the unexport control file.
func UnexportPath(root string) string {
	return filepath.Join(root, "unexport")
}

// NodeDir returns the directory of pin's node.
func NodeDir(root string, pin int) string {
	return filepath.Join(root, "button"+strconv.Itoa(pin))
}

// ValuePath returns pin's value file.
func ValuePath(root string, pin int) string {
	return filepath.Join(NodeDir(root, pin), "value")
}

// Registry creates value nodes under root. It implements button.Registry.
type Registry struct {
	root string
}

// NewRegistry returns a Registry rooted at root.
func NewRegistry(root string) *Registry {
	return &Registry{root: root}
}

// Reset removes every button<N> directory left under root by an earlier
// run. Nothing in the tree outlives the daemon, so this runs before the
// first Register.
func (r *Registry) Reset() error {
	entries, err := os.ReadDir(r.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read node root: %w", err)
	}

	var errs []error
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !isNodeName(name) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.root, name)); err != nil {
			errs = append(errs, fmt.Errorf("remove stale %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// isNodeName reports whether name is button<N> for a decimal N.
func isNodeName(name string) bool {
	digits, ok := strings.CutPrefix(name, "button")
	if !ok || digits == "" {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Register creates <root>/button<pin>/value holding "0\n". It fails if the
// node already exists.
func (r *Registry) Register(pin int) (button.Node, error) {
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return nil, fmt.Errorf("create node root: %w", err)
	}
	dir := NodeDir(r.root, pin)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create button%d: %w", pin, err)
	}

	// value only appears once complete. The handle stays open for writing;
	// later updates do not depend on the file mode.
	path := ValuePath(r.root, pin)
	tmp := path + ".new"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, ValueMode)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("create button%d value: %w", pin, err)
	}
	fail := func(step string, err error) (button.Node, error) {
		f.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%s button%d value: %w", step, pin, err)
	}
	if _, err := f.WriteAt(released, 0); err != nil {
		return fail("write", err)
	}
	if err := f.Chmod(ValueMode); err != nil {
		return fail("chmod", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fail("publish", err)
	}

	return &Node{dir: dir, path: path, f: f}, nil
}

var (
	pressed  = []byte("1\n")
	released = []byte("0\n")
)

// Node is one registered value file.
type Node struct {
	dir  string
	path string

	mu sync.Mutex
	f  *os.File
}

// Path returns the value file path.
func (n *Node) Path() string {
	return n.path
}

// Changed rewrites the value file in place. Write errors are dropped; the
// next transition rewrites the whole value anyway.
func (n *Node) Changed(isPressed bool) {
	b := released
	if isPressed {
		b = pressed
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.f == nil {
		return
	}
	n.f.WriteAt(b, 0)
}

// Unregister closes the value file and removes the node directory.
func (n *Node) Unregister() error {
	n.mu.Lock()
	f := n.f
	n.f = nil
	n.mu.Unlock()

	if f == nil {
		return fmt.Errorf("%s: already unregistered", n.dir)
	}
	closeErr := f.Close()
	if err := os.RemoveAll(n.dir); err != nil {
		return fmt.Errorf("remove %s: %w", n.dir, err)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", n.path, closeErr)
	}
	return nil
}
