// Package board adapts the vendor EEG acquisition driver. Acquisition,
// filtering and channel selection stay inside the driver; the adapter only
// opens a handle for a configured board and reports its sampling rate.
package board

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CytonBoard is the vendor id of the OpenBCI Cyton board.
const CytonBoard = 0

// DefaultPreset selects the driver's default data preset.
const DefaultPreset = 0

// ErrLibraryNotFound is returned when the vendor driver is not installed.
var ErrLibraryNotFound = errors.New("BrainFlow board controller library not found")

// Driver is the slice of the vendor API the adapter uses.
type Driver interface {
	SamplingRate(boardID, preset int) (int, error)
	EEGChannels(boardID, preset int) ([]int, error)
}

// SessionDriver can also open and release a streaming session on the port.
type SessionDriver interface {
	Driver
	Prepare(boardID int, params Params) error
	Release(boardID int, params Params) error
}

// Params mirrors the driver's input parameters. BufferLength is not a driver
// field; it sizes the ring buffer handed to the driver when streaming starts.
type Params struct {
	SerialPort   string `json:"serial_port"`
	MACAddress   string `json:"mac_address"`
	IPAddress    string `json:"ip_address"`
	IPPort       int    `json:"ip_port"`
	IPProtocol   int    `json:"ip_protocol"`
	OtherInfo    string `json:"other_info"`
	Timeout      int    `json:"timeout"`
	SerialNumber string `json:"serial_number"`
	File         string `json:"file"`
	MasterBoard  int    `json:"master_board"`
	BufferLength int    `json:"-"`
}

// DefaultParams returns parameters for a serial-attached board.
func DefaultParams(serialPort string, bufferLength int) Params {
	return Params{
		SerialPort:   serialPort,
		MasterBoard:  -100,
		BufferLength: bufferLength,
	}
}

// JSON encodes the parameters the way the driver expects them.
func (p Params) JSON() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Board is an initialized board handle.
type Board struct {
	id           int
	params       Params
	samplingRate int
	channels     []int
}

// Open resolves the board's sampling rate through the driver. Channels is the
// subset of EEG channels the experiment reads; when empty, the driver's EEG
// channel list is used.
func Open(driver Driver, boardID int, params Params, channels []int) (*Board, error) {
	rate, err := driver.SamplingRate(boardID, DefaultPreset)
	if err != nil {
		return nil, fmt.Errorf("sampling rate for board %d: %w", boardID, err)
	}

	if len(channels) == 0 {
		channels, err = driver.EEGChannels(boardID, DefaultPreset)
		if err != nil {
			return nil, fmt.Errorf("eeg channels for board %d: %w", boardID, err)
		}
	}

	return &Board{
		id:           boardID,
		params:       params,
		samplingRate: rate,
		channels:     append([]int(nil), channels...),
	}, nil
}

// ID returns the vendor board id.
func (b *Board) ID() int { return b.id }

// SamplingRate returns the board's sampling rate in Hz.
func (b *Board) SamplingRate() int { return b.samplingRate }

// Channels returns the channels in use.
func (b *Board) Channels() []int { return append([]int(nil), b.channels...) }

// Params returns the parameters the board was opened with.
func (b *Board) Params() Params { return b.params }

// Probe opens a streaming session for b and releases it right away, which
// confirms the board answers on its serial port.
func Probe(driver SessionDriver, b *Board) error {
	if err := driver.Prepare(b.id, b.params); err != nil {
		return fmt.Errorf("prepare board %d: %w", b.id, err)
	}
	if err := driver.Release(b.id, b.params); err != nil {
		return fmt.Errorf("release board %d: %w", b.id, err)
	}
	return nil
}

// StatusError is a non-zero driver exit code.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: driver status %d", e.Op, e.Code)
}
