package node

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sweeney/ac-button/internal/button"
)

// Exporter receives requests written to the control files.
type Exporter interface {
	Export(pin int) error
	Unexport(pin int) error
}

// Control turns lines appended to <root>/export and <root>/unexport into
// Export and Unexport calls.
type Control struct {
	root   string
	target Exporter

	mu    sync.Mutex
	files map[string]*controlFile
}

type controlFile struct {
	path    string
	op      string
	offset  int64
	partial string
}

// NewControl creates the root directory and empty control files.
func NewControl(root string, target Exporter) (*Control, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create node root: %w", err)
	}

	c := &Control{
		root:   root,
		target: target,
		files:  make(map[string]*controlFile),
	}
	for op, path := range map[string]string{"export": ExportPath(root), "unexport": UnexportPath(root)} {
		if err := os.WriteFile(path, nil, 0o620); err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		c.files[path] = &controlFile{path: path, op: op}
	}
	return c, nil
}

// Run watches the control files until ctx is done.
func (c *Control) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.root, err)
	}

	// Anything written before the watch was in place
	c.Drain()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			c.process(event.Name, event.Op&fsnotify.Create != 0)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("control watcher: %v", err)
		}
	}
}

// Drain handles every complete line not yet seen in either control file.
func (c *Control) Drain() {
	c.process(ExportPath(c.root), false)
	c.process(UnexportPath(c.root), false)
}

func (c *Control) process(path string, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cf, ok := c.files[path]
	if !ok {
		return
	}
	if created {
		cf.offset, cf.partial = 0, ""
	}

	lines, err := cf.readLines()
	if err != nil {
		log.Printf("read %s: %v", path, err)
		return
	}
	for _, line := range lines {
		c.handle(cf.op, line)
	}
}

// readLines returns the complete lines appended since the last call. Once
// every line has been consumed the file is truncated, so it only ever holds
// unhandled requests. Writers that append under LockFile cannot slip a line
// in between the read and the truncate.
func (cf *controlFile) readLines() ([]string, error) {
	f, err := os.OpenFile(cf.path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := LockFile(f); err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	// Truncated by a writer
	if info.Size() < cf.offset {
		cf.offset, cf.partial = 0, ""
	}

	if _, err := f.Seek(cf.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cf.offset += int64(len(data))

	text := cf.partial + string(data)
	end := strings.LastIndexByte(text, '\n')
	if end < 0 {
		cf.partial = text
		return nil, nil
	}
	cf.partial = text[end+1:]
	if cf.partial == "" {
		if err := f.Truncate(0); err != nil {
			log.Printf("truncate %s: %v", cf.path, err)
		} else {
			cf.offset = 0
		}
	}

	var lines []string
	for _, line := range strings.Split(text[:end], "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (c *Control) handle(op, line string) {
	pin, err := button.ParsePin(line)
	if err != nil {
		log.Printf("%s: %v", op, err)
		return
	}

	if op == "export" {
		err = c.target.Export(pin)
	} else {
		err = c.target.Unexport(pin)
	}
	if err != nil {
		log.Printf("%s %d: %v", op, pin, err)
	}
}
