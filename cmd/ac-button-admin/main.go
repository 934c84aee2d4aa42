// Command ac-button-admin exports and unexports buttons on a running
// ac-button daemon by writing to its control files.
//
//	ac-button-admin export 17
//	ac-button-admin -root /run/ac_button unexport 17
//
// After an export it waits for the button's value file to appear and makes
// it world-readable. The daemon does not report why a request failed; when
// the value file never appears the reason is in the daemon's log.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sweeney/ac-button/internal/button"
	"github.com/sweeney/ac-button/internal/node"
)

// Exit codes.
const (
	exitOK = iota
	exitUsage
	exitParse
	exitOpen
	exitWrite
	exitNoNode
	exitChmod
	exitPathTooLong
	exitExported
)

// pathMax is PATH_MAX on Linux, including the terminating NUL.
const pathMax = 4096

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("ac-button-admin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", node.DefaultRoot, "Daemon node root")
	timeout := fs.Duration("timeout", 5*time.Second, "How long to wait for an exported button's value file")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: ac-button-admin [-root DIR] [-timeout D] {export|unexport} <pin>\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return exitUsage
	}

	op := fs.Arg(0)
	var control string
	switch op {
	case "export":
		control = node.ExportPath(*root)
	case "unexport":
		control = node.UnexportPath(*root)
	default:
		fs.Usage()
		return exitUsage
	}

	pin, err := button.ParsePin(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitParse
	}

	value := node.ValuePath(*root, pin)
	if len(value) >= pathMax {
		fmt.Fprintf(stderr, "node path too long: %d bytes\n", len(value))
		return exitPathTooLong
	}

	if op == "export" {
		if _, err := os.Stat(value); err == nil {
			fmt.Fprintf(stderr, "button%d: already exported\n", pin)
			return exitExported
		}
	}

	f, err := os.OpenFile(control, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		fmt.Fprintf(stderr, "open control file: %v\n", err)
		return exitOpen
	}
	err = node.LockFile(f)
	if err == nil {
		_, err = fmt.Fprintf(f, "%d\n", pin)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(stderr, "write %s: %v\n", control, err)
		return exitWrite
	}

	if op == "unexport" {
		return exitOK
	}

	if err := waitForFile(*root, value, *timeout); err != nil {
		fmt.Fprintf(stderr, "button%d: %v\n", pin, err)
		return exitNoNode
	}

	info, err := os.Stat(value)
	if err == nil {
		err = os.Chmod(value, info.Mode().Perm()|0o004)
	}
	if err != nil {
		fmt.Fprintf(stderr, "chmod %s: %v\n", value, err)
		return exitChmod
	}
	return exitOK
}

// errTimeout is returned by waitForFile when path does not appear in time.
var errTimeout = errors.New("value file did not appear, see the daemon log")

// waitForFile blocks until path exists. path lives in a directory directly
// below root, which may not exist yet either.
func waitForFile(root, path string, timeout time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	dir := filepath.Dir(path)
	watchingDir := false

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if !watchingDir && watcher.Add(dir) == nil {
			watchingDir = true
		}
		if _, err := os.Stat(path); err == nil {
			return nil
		}

		select {
		case <-deadline.C:
			return errTimeout
		case _, ok := <-watcher.Events:
			if !ok {
				return errTimeout
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errTimeout
			}
			return fmt.Errorf("watch: %w", err)
		}
	}
}
