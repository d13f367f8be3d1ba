package bt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	readTimeout = 200 * time.Millisecond // Bounds how long Close waits for the reader
	readBufSize = 256
)

// serialConn is a Conn over a TTY: an RFCOMM-bound /dev/rfcommN or any
// SPP serial port exposed by the OS.
type serialConn struct {
	path string
	port serial.Port
	disp dispatcher

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{} // Closed when the reader exits

	errMu sync.Mutex
	err   error // Why the reader exited
}

// openSerial opens path at baud and starts the reader goroutine.
// Opening an RFCOMM TTY pages the remote device and can block for
// several seconds, so the open runs aside and ctx can abandon it.
func openSerial(ctx context.Context, path string, baud int) (*serialConn, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	type result struct {
		port serial.Port
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := serial.Open(path, mode)
		ch <- result{p, err}
	}()

	var port serial.Port
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, r.err)
		}
		port = r.port
	case <-ctx.Done():
		// Reap a late success so the TTY is not left open.
		go func() {
			if r := <-ch; r.err == nil {
				r.port.Close()
			}
		}()
		return nil, ctx.Err()
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set timeout on %s: %w", path, err)
	}

	c := &serialConn{
		path:   path,
		port:   port,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *serialConn) readLoop() {
	defer close(c.done)
	buf := make([]byte, readBufSize)
	for {
		select {
		case <-c.closed:
			c.setErr(ErrClosed)
			return
		default:
		}

		n, err := c.port.Read(buf)
		if err != nil {
			select {
			case <-c.closed:
				c.setErr(ErrClosed)
			default:
				log.Printf("[bt] read %s failed: %v", c.path, err)
				c.setErr(fmt.Errorf("read %s: %w: %v", c.path, ErrLinkLost, err))
			}
			return
		}
		// n == 0 is a read timeout
		if n > 0 {
			c.disp.deliver(buf[:n])
		}
	}
}

func (c *serialConn) setErr(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
}

func (c *serialConn) Done() <-chan struct{} { return c.done }

func (c *serialConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *serialConn) Write(ctx context.Context, text string) error {
	select {
	case <-c.closed:
		return ErrClosed
	case <-c.done:
		return c.Err()
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.port.Write([]byte(text)); err != nil {
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	return nil
}

func (c *serialConn) Subscribe(onChunk func([]byte)) (Subscription, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	return c.disp.subscribe(onChunk), nil
}

func (c *serialConn) Close() error {
	err := ErrClosed
	c.closeOnce.Do(func() {
		close(c.closed)
		c.disp.clear()
		err = c.port.Close()
		<-c.done
		log.Printf("[bt] closed %s", c.path)
	})
	return err
}
