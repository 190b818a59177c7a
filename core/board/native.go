//go:build darwin || linux

package board

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"

	"github.com/adalundhe/biofeedback/core/storage"
)

const maxChannels = 512

var _ SessionDriver = (*NativeDriver)(nil)

// NativeDriver calls into libBoardController via purego.
type NativeDriver struct {
	handle uintptr

	getSamplingRate func(boardID, preset int32, rate *int32) int32
	getEEGChannels  func(boardID, preset int32, channels *int32, length *int32) int32
	prepareSession  func(boardID int32, params string) int32
	releaseSession  func(boardID int32, params string) int32

	mu sync.Mutex
}

// LoadDriver loads the board controller library. An empty path searches the
// usual install locations and $BRAINFLOW_LIB.
func LoadDriver(path string) (*NativeDriver, error) {
	if path == "" {
		path = findLibrary()
	}
	if path == "" {
		return nil, ErrLibraryNotFound
	}

	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	d := &NativeDriver{handle: handle}
	purego.RegisterLibFunc(&d.getSamplingRate, handle, "get_sampling_rate")
	purego.RegisterLibFunc(&d.getEEGChannels, handle, "get_eeg_channels")
	purego.RegisterLibFunc(&d.prepareSession, handle, "prepare_session")
	purego.RegisterLibFunc(&d.releaseSession, handle, "release_session")
	return d, nil
}

func (d *NativeDriver) SamplingRate(boardID, preset int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var rate int32
	if code := d.getSamplingRate(int32(boardID), int32(preset), &rate); code != 0 {
		return 0, &StatusError{Op: "get_sampling_rate", Code: int(code)}
	}
	return int(rate), nil
}

func (d *NativeDriver) EEGChannels(boardID, preset int) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := make([]int32, maxChannels)
	var n int32
	if code := d.getEEGChannels(int32(boardID), int32(preset), &buf[0], &n); code != 0 {
		return nil, &StatusError{Op: "get_eeg_channels", Code: int(code)}
	}
	channels := make([]int, n)
	for i := range channels {
		channels[i] = int(buf[i])
	}
	return channels, nil
}

// Prepare opens a streaming session on the board.
func (d *NativeDriver) Prepare(boardID int, params Params) error {
	encoded, err := params.JSON()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.prepareSession(int32(boardID), encoded); code != 0 {
		return &StatusError{Op: "prepare_session", Code: int(code)}
	}
	return nil
}

// Release closes a session opened by Prepare.
func (d *NativeDriver) Release(boardID int, params Params) error {
	encoded, err := params.JSON()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.releaseSession(int32(boardID), encoded); code != 0 {
		return &StatusError{Op: "release_session", Code: int(code)}
	}
	return nil
}

// Close unloads the library.
func (d *NativeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == 0 {
		return nil
	}
	err := purego.Dlclose(d.handle)
	d.handle = 0
	return err
}

func findLibrary() string {
	if p := os.Getenv("BRAINFLOW_LIB"); p != "" {
		return p
	}
	for _, path := range searchPaths() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func searchPaths() []string {
	name := libraryName()
	var paths []string
	if dirs, err := storage.ResolveDirs(); err == nil {
		paths = append(paths, dirs.DataDir("lib", name))
	}
	paths = append(paths,
		"/usr/local/lib/"+name,
		"/usr/lib/"+name,
	)

	switch runtime.GOOS {
	case "darwin":
		paths = append(paths, "/opt/homebrew/lib/"+name)
	case "linux":
		paths = append(paths,
			"/usr/lib/x86_64-linux-gnu/"+name,
			"/usr/lib/aarch64-linux-gnu/"+name,
		)
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "lib", name))
	}
	return paths
}

func libraryName() string {
	if runtime.GOOS == "darwin" {
		return "libBoardController.dylib"
	}
	return "libBoardController.so"
}
