package fifo

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/flashdisk/msc"
	"github.com/ardnew/flashdisk/pkg"
)

var (
	_ msc.Pipe = (*Device)(nil)
	_ msc.Pipe = (*Host)(nil)
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func connect(t *testing.T) (*Device, *Host) {
	t.Helper()

	bus := t.TempDir()
	dev, err := Listen(bus)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	host, err := Dial(testContext(t), bus)
	require.NoError(t, err)
	t.Cleanup(func() { host.Close() })

	require.Equal(t, dev.Dir(), host.Dir())
	return dev, host
}

func TestPacketFraming(t *testing.T) {
	ctx := testContext(t)
	dev, host := connect(t)

	data := make([]byte, 1300)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, dev.Send(ctx, data))

	buf := make([]byte, MaxPacketSize)
	var got []byte
	for _, want := range []int{512, 512, 276} {
		n, err := host.Receive(ctx, buf)
		require.NoError(t, err)
		require.Equal(t, want, n)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, data, got)

	// Host to device direction.
	require.NoError(t, host.Send(ctx, []byte("USBC")))
	n, err := dev.Receive(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "USBC", string(buf[:n]))
}

func TestReceiveBufferTooSmall(t *testing.T) {
	ctx := testContext(t)
	dev, host := connect(t)

	require.NoError(t, host.Send(ctx, make([]byte, 64)))
	_, err := dev.Receive(ctx, make([]byte, 31))
	assert.ErrorIs(t, err, pkg.ErrBufferTooSmall)
}

func TestReceiveCancelled(t *testing.T) {
	dev, _ := connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := dev.Receive(ctx, make([]byte, MaxPacketSize))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseRemovesDirectory(t *testing.T) {
	bus := t.TempDir()
	dev, err := Listen(bus)
	require.NoError(t, err)
	assert.Len(t, dev.UUID(), 32)

	_, err = os.Stat(dev.Dir())
	require.NoError(t, err)

	require.NoError(t, dev.Close())
	_, err = os.Stat(dev.Dir())
	assert.True(t, os.IsNotExist(err))

	_, err = dev.Receive(context.Background(), make([]byte, 8))
	assert.ErrorIs(t, err, pkg.ErrCancelled)
}

func TestCloseConcurrent(t *testing.T) {
	dev, err := Listen(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- dev.Close()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	_, err = os.Stat(dev.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestDialTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, t.TempDir())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, pkg.ErrTimeout)
}

func TestMassStorageOverFIFO(t *testing.T) {
	ctx := testContext(t)
	dev, host := connect(t)

	storage := msc.NewMemoryStorage(256, 512)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- msc.New(dev, storage).Run(runCtx) }()

	c := msc.NewClient(host)
	blocks, size, err := c.ReadCapacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(256), blocks)
	assert.Equal(t, uint32(512), size)

	data := make([]byte, 100*512)
	for i := range data {
		data[i] = byte(i * 3)
	}
	require.NoError(t, c.WriteBlocks(ctx, 20, data))

	got := make([]byte, len(data))
	_, err = c.Read10(ctx, 20, got)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	cancel()
	assert.Error(t, <-done)
}
