//go:build !darwin && !linux

package board

import "errors"

// NativeDriver is unavailable on this platform.
type NativeDriver struct{}

var _ SessionDriver = (*NativeDriver)(nil)

// LoadDriver always fails on platforms without dlopen support.
func LoadDriver(string) (*NativeDriver, error) {
	return nil, errors.Join(ErrLibraryNotFound, errors.New("native driver loading unsupported on this platform"))
}

func (d *NativeDriver) SamplingRate(int, int) (int, error) { return 0, ErrLibraryNotFound }

func (d *NativeDriver) EEGChannels(int, int) ([]int, error) { return nil, ErrLibraryNotFound }

func (d *NativeDriver) Prepare(int, Params) error { return ErrLibraryNotFound }

func (d *NativeDriver) Release(int, Params) error { return ErrLibraryNotFound }

func (d *NativeDriver) Close() error { return nil }
