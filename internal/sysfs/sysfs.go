// Package sysfs wraps the kernel GPIO sysfs control files.
// Each call is a single filesystem operation; retrying is left to callers.
package sysfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRoot is the kernel GPIO sysfs directory.
const DefaultRoot = "/sys/class/gpio"

// IOError reports a failed filesystem operation on a GPIO control file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("gpio %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// FS performs GPIO control operations below Root.
type FS struct {
	Root string
}

// New returns an FS rooted at root, or DefaultRoot when root is empty.
func New(root string) *FS {
	if root == "" {
		root = DefaultRoot
	}
	return &FS{Root: root}
}

// PinDir returns the directory the kernel creates for an exported pin.
func (f *FS) PinDir(id string) string {
	return filepath.Join(f.Root, "gpio"+id)
}

// ValuePath returns the path of the pin's value file.
func (f *FS) ValuePath(id string) string {
	return filepath.Join(f.PinDir(id), "value")
}

// Export asks the kernel to create the control directory for id.
func (f *FS) Export(id string) error {
	return f.write("export", filepath.Join(f.Root, "export"), id)
}

// Unexport asks the kernel to remove the control directory for id.
func (f *FS) Unexport(id string) error {
	return f.write("unexport", filepath.Join(f.Root, "unexport"), id)
}

// SetDirection writes one of "in", "out", "low" or "high".
func (f *FS) SetDirection(id, direction string) error {
	return f.write("set direction", filepath.Join(f.PinDir(id), "direction"), direction)
}

// SetEdge writes one of "none", "rising", "falling" or "both".
func (f *FS) SetEdge(id, edge string) error {
	return f.write("set edge", filepath.Join(f.PinDir(id), "edge"), edge)
}

// IsExported reports whether the control directory for id exists.
func (f *FS) IsExported(id string) (bool, error) {
	path := f.PinDir(id)
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &IOError{Op: "stat", Path: path, Err: err}
}

// ReadValue reads the pin level. Anything other than "1" is low.
func (f *FS) ReadValue(id string) (bool, error) {
	path := f.ValuePath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		return false, &IOError{Op: "read value", Path: path, Err: err}
	}
	return ParseValue(data), nil
}

// WriteValue drives the pin level.
func (f *FS) WriteValue(id string, value bool) error {
	return f.write("write value", f.ValuePath(id), FormatValue(value))
}

func (f *FS) write(op, path, payload string) error {
	// O_TRUNC is ignored by sysfs but keeps plain-file roots sane in tests.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &IOError{Op: op, Path: path, Err: err}
	}
	if _, err := file.WriteString(payload); err != nil {
		file.Close()
		return &IOError{Op: op, Path: path, Err: err}
	}
	if err := file.Close(); err != nil {
		return &IOError{Op: op, Path: path, Err: err}
	}
	return nil
}

// ParseValue interprets value-file content.
func ParseValue(data []byte) bool {
	return strings.TrimSpace(string(data)) == "1"
}

// FormatValue normalises a truthy value to "1" and everything else to "0".
// Truthy values are true, the string "1" and non-zero numbers.
func FormatValue(v any) string {
	if Truthy(v) {
		return "1"
	}
	return "0"
}

// Truthy reports whether v should drive a pin high.
func Truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return strings.TrimSpace(x) == "1"
	case []byte:
		return strings.TrimSpace(string(x)) == "1"
	case int:
		return x != 0
	case int8:
		return x != 0
	case int16:
		return x != 0
	case int32:
		return x != 0
	case int64:
		return x != 0
	case uint:
		return x != 0
	case uint8:
		return x != 0
	case uint16:
		return x != 0
	case uint32:
		return x != 0
	case uint64:
		return x != 0
	case float32:
		return x != 0
	case float64:
		return x != 0
	}
	return false
}
