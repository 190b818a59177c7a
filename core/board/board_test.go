package board

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	rate     int
	channels []int
	err      error
	calls    int
}

func (d *fakeDriver) SamplingRate(boardID, preset int) (int, error) {
	d.calls++
	if d.err != nil {
		return 0, d.err
	}
	return d.rate, nil
}

func (d *fakeDriver) EEGChannels(boardID, preset int) ([]int, error) {
	return d.channels, d.err
}

func TestOpen_ReportsSamplingRate(t *testing.T) {
	driver := &fakeDriver{rate: 250}
	params := DefaultParams("/dev/cu.usbserial-DM03H3QF", 256)

	b, err := Open(driver, CytonBoard, params, []int{7, 8})
	require.NoError(t, err)

	assert.Equal(t, 250, b.SamplingRate())
	assert.Equal(t, CytonBoard, b.ID())
	assert.Equal(t, []int{7, 8}, b.Channels())
	assert.Equal(t, 256, b.Params().BufferLength)
	assert.Equal(t, 1, driver.calls)
}

func TestOpen_FallsBackToDriverChannels(t *testing.T) {
	driver := &fakeDriver{rate: 250, channels: []int{1, 2, 3, 4, 5, 6, 7, 8}}

	b, err := Open(driver, CytonBoard, DefaultParams("/dev/null", 256), nil)
	require.NoError(t, err)
	assert.Len(t, b.Channels(), 8)
}

func TestOpen_DriverError(t *testing.T) {
	driver := &fakeDriver{err: &StatusError{Op: "get_sampling_rate", Code: 13}}

	_, err := Open(driver, 99, DefaultParams("", 0), nil)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 13, se.Code)
}

func TestParamsJSON(t *testing.T) {
	encoded, err := DefaultParams("/dev/ttyUSB0", 256).JSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(encoded), &decoded))
	assert.Equal(t, "/dev/ttyUSB0", decoded["serial_port"])
	assert.Equal(t, float64(-100), decoded["master_board"])
	assert.NotContains(t, decoded, "BufferLength")
}

type sessionDriver struct {
	fakeDriver
	prepareErr error
	ops        []string
	params     []Params
}

func (d *sessionDriver) Prepare(boardID int, params Params) error {
	d.ops = append(d.ops, "prepare")
	d.params = append(d.params, params)
	return d.prepareErr
}

func (d *sessionDriver) Release(boardID int, params Params) error {
	d.ops = append(d.ops, "release")
	d.params = append(d.params, params)
	return nil
}

func TestProbe_PreparesThenReleases(t *testing.T) {
	driver := &sessionDriver{fakeDriver: fakeDriver{rate: 250}}
	b, err := Open(driver, CytonBoard, DefaultParams("/dev/ttyUSB0", 256), []int{7, 8})
	require.NoError(t, err)

	require.NoError(t, Probe(driver, b))
	assert.Equal(t, []string{"prepare", "release"}, driver.ops)
	for _, p := range driver.params {
		assert.Equal(t, "/dev/ttyUSB0", p.SerialPort)
	}
}

func TestProbe_PrepareFailureSkipsRelease(t *testing.T) {
	driver := &sessionDriver{
		fakeDriver: fakeDriver{rate: 250},
		prepareErr: &StatusError{Op: "prepare_session", Code: 2},
	}
	b, err := Open(driver, CytonBoard, DefaultParams("/dev/ttyUSB0", 256), nil)
	require.NoError(t, err)

	err = Probe(driver, b)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "prepare_session", se.Op)
	assert.Equal(t, []string{"prepare"}, driver.ops)
}

func TestLoadDriver_MissingLibrary(t *testing.T) {
	t.Setenv("BRAINFLOW_LIB", "/nonexistent/libBoardController.so")

	_, err := LoadDriver("")
	assert.Error(t, err)
}
