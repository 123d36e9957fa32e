// Package fifo carries a pair of bulk endpoints over named pipes so the
// mass-storage device can be driven by a host process on the same machine.
//
// The device creates a directory device-{uuid} under a shared bus
// directory containing three FIFOs:
//
//   - bulk_out - host to device packets
//   - bulk_in - device to host packets
//   - connection - one byte connect/disconnect signals
//
// Every packet is framed as [type, len_lo, len_hi, payload...] with a
// payload of at most MaxPacketSize bytes.
package fifo

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/flashdisk/pkg"
)

// MaxPacketSize is the maximum payload of one packet.
const MaxPacketSize = 512

// Message types.
const (
	msgData = 0x02 // DATA packet
)

// Header size for messages.
const headerSize = 3 // type (1) + length (2)

// Connection signal bytes.
const (
	sigConnect    = 0x01 // Device connected
	sigDisconnect = 0x00 // Device disconnected
)

// FIFO file names.
const (
	fifoBulkOut    = "bulk_out"
	fifoBulkIn     = "bulk_in"
	fifoConnection = "connection"
)

// DevicePrefix starts the name of every device directory.
const DevicePrefix = "device-"

// pollInterval bounds how long a blocked read waits before rechecking
// cancellation.
const pollInterval = 100 * time.Millisecond

// endpoint is one direction-pair of open FIFOs with packet framing.
type endpoint struct {
	rx *os.File
	tx *os.File

	closeCh   chan struct{}
	closeOnce sync.Once

	rxMutex sync.Mutex
	txMutex sync.Mutex
	rxBuf   [headerSize + MaxPacketSize]byte
	txBuf   [headerSize + MaxPacketSize]byte
}

func newEndpoint(rx, tx *os.File) *endpoint {
	return &endpoint{rx: rx, tx: tx, closeCh: make(chan struct{})}
}

// Send writes data as a sequence of packets. An empty data slice sends a
// zero-length packet.
func (e *endpoint) Send(ctx context.Context, data []byte) error {
	e.txMutex.Lock()
	defer e.txMutex.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closeCh:
			return pkg.ErrCancelled
		default:
		}

		n := min(len(data), MaxPacketSize)
		e.txBuf[0] = msgData
		binary.LittleEndian.PutUint16(e.txBuf[1:3], uint16(n))
		copy(e.txBuf[headerSize:], data[:n])

		if err := writeFull(e.tx, e.txBuf[:headerSize+n]); err != nil {
			return err
		}

		data = data[n:]
		if len(data) == 0 {
			return nil
		}
	}
}

// Receive reads the next packet into buf.
func (e *endpoint) Receive(ctx context.Context, buf []byte) (int, error) {
	e.rxMutex.Lock()
	defer e.rxMutex.Unlock()

	header := e.rxBuf[:headerSize]
	if _, err := e.readFull(ctx, header); err != nil {
		return 0, err
	}

	msgType := header[0]
	length := int(binary.LittleEndian.Uint16(header[1:3]))

	if msgType != msgData || length > MaxPacketSize {
		pkg.LogWarn(pkg.ComponentTransport, "bad packet header",
			"type", msgType,
			"length", length)
		return 0, pkg.ErrProtocol
	}

	payload := e.rxBuf[headerSize : headerSize+length]
	if _, err := e.readFull(ctx, payload); err != nil {
		return 0, err
	}
	if length > len(buf) {
		return 0, pkg.ErrBufferTooSmall
	}
	return copy(buf, payload), nil
}

// readFull reads exactly len(buf) bytes, retrying on read deadlines so
// cancellation is observed.
func (e *endpoint) readFull(ctx context.Context, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-e.closeCh:
			return total, pkg.ErrCancelled
		default:
		}

		_ = e.rx.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := e.rx.Read(buf[total:])
		total += n
		if err != nil {
			if os.IsTimeout(err) || err == io.EOF {
				continue
			}
			return total, err
		}
	}
	return total, nil
}

func (e *endpoint) close() {
	e.closeOnce.Do(func() {
		close(e.closeCh)
		e.rx.Close()
		e.tx.Close()
	})
}

func writeFull(f *os.File, b []byte) error {
	for len(b) > 0 {
		n, err := f.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Device is the device end of a FIFO bus connection.
type Device struct {
	*endpoint

	busDir    string
	deviceDir string
	uuid      string
	conn      *os.File

	shutdown sync.Once
	closeErr error
}

// Listen creates a device directory under busDir with fresh FIFOs and
// signals connection.
func Listen(busDir string) (*Device, error) {
	uuid, err := generateUUID()
	if err != nil {
		return nil, fmt.Errorf("generate uuid: %w", err)
	}

	d := &Device{
		busDir:    busDir,
		deviceDir: filepath.Join(busDir, DevicePrefix+uuid),
		uuid:      uuid,
	}

	if err := os.MkdirAll(d.deviceDir, 0o755); err != nil {
		return nil, fmt.Errorf("create device dir: %w", err)
	}

	for _, name := range []string{fifoBulkOut, fifoBulkIn, fifoConnection} {
		if err := createFIFO(filepath.Join(d.deviceDir, name)); err != nil {
			os.RemoveAll(d.deviceDir)
			return nil, err
		}
	}

	files, err := openFIFOs(d.deviceDir, fifoBulkOut, fifoBulkIn, fifoConnection)
	if err != nil {
		os.RemoveAll(d.deviceDir)
		return nil, err
	}
	d.endpoint = newEndpoint(files[0], files[1])
	d.conn = files[2]

	if _, err := d.conn.Write([]byte{sigConnect}); err != nil {
		pkg.LogWarn(pkg.ComponentTransport, "failed to signal connection",
			"error", err)
	}

	pkg.LogInfo(pkg.ComponentTransport, "fifo device listening",
		"busDir", busDir,
		"deviceDir", d.deviceDir)

	return d, nil
}

// Dir returns the device subdirectory path.
func (d *Device) Dir() string {
	return d.deviceDir
}

// UUID returns the device's unique identifier.
func (d *Device) UUID() string {
	return d.uuid
}

// Close signals disconnection, closes the FIFOs and removes the device
// directory.
func (d *Device) Close() error {
	d.shutdown.Do(func() {
		if d.conn != nil {
			d.conn.Write([]byte{sigDisconnect})
			d.conn.Close()
			d.conn = nil
		}
		d.endpoint.close()

		pkg.LogInfo(pkg.ComponentTransport, "fifo device closed",
			"deviceDir", d.deviceDir)
		d.closeErr = os.RemoveAll(d.deviceDir)
	})
	return d.closeErr
}

// Host is the host end of a FIFO bus connection.
type Host struct {
	*endpoint

	deviceDir string
}

// Open attaches to the device directory dir.
func Open(dir string) (*Host, error) {
	files, err := openFIFOs(dir, fifoBulkIn, fifoBulkOut)
	if err != nil {
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentTransport, "fifo host attached",
		"deviceDir", dir)

	return &Host{endpoint: newEndpoint(files[0], files[1]), deviceDir: dir}, nil
}

// Dial waits until a device appears under busDir and attaches to it.
func Dial(ctx context.Context, busDir string) (*Host, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		dir, err := findDevice(busDir)
		if err == nil {
			return Open(dir)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("no device under %s: %w: %w", busDir, pkg.ErrTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("no device under %s: %w", busDir, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Dir returns the attached device directory.
func (h *Host) Dir() string {
	return h.deviceDir
}

// Close closes the host FIFOs.
func (h *Host) Close() error {
	h.endpoint.close()
	return nil
}

// findDevice returns the first complete device directory under busDir.
func findDevice(busDir string) (string, error) {
	entries, err := os.ReadDir(busDir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) <= len(DevicePrefix) ||
			entry.Name()[:len(DevicePrefix)] != DevicePrefix {
			continue
		}
		dir := filepath.Join(busDir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, fifoConnection)); err == nil {
			return dir, nil
		}
	}
	return "", os.ErrNotExist
}

// generateUUID generates a random UUID using crypto/rand.
func generateUUID() (string, error) {
	var uuid [16]byte
	if _, err := rand.Read(uuid[:]); err != nil {
		return "", err
	}
	uuid[6] = (uuid[6] & 0x0f) | 0x40
	uuid[8] = (uuid[8] & 0x3f) | 0x80
	return hex.EncodeToString(uuid[:]), nil
}

// createFIFO creates a named pipe at path, replacing any existing file.
func createFIFO(path string) error {
	os.Remove(path)
	if err := unix.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("mkfifo %s: %w", filepath.Base(path), err)
	}
	return nil
}

// openFIFOs opens the named FIFOs in dir read-write and non-blocking, so
// opening never waits for the peer and reads honor deadlines.
func openFIFOs(dir string, names ...string) ([]*os.File, error) {
	files := make([]*os.File, 0, len(names))
	for _, name := range names {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR|unix.O_NONBLOCK, 0)
		if err != nil {
			for _, o := range files {
				o.Close()
			}
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		files = append(files, f)
	}
	return files, nil
}
