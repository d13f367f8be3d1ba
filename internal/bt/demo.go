package bt

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Demo simulates a paired HC-06 on a small vehicle for development and testing.
// Every command is acknowledged with an "OK:<command>" line and, when enabled,
// the vehicle streams distance and battery telemetry. Replies are written in
// random fragments the way a real SPP link splits them.
type Demo struct {
	cfg DemoConfig
}

// DemoConfig holds timings for the simulated vehicle.
type DemoConfig struct {
	ConnectDelay      time.Duration `yaml:"connect_delay" json:"connectDelay"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval" json:"telemetryInterval"` // 0 disables telemetry
	FailAddress       string        `yaml:"fail_address" json:"failAddress"`             // Open on this address fails
	DropAfter         time.Duration `yaml:"drop_after" json:"dropAfter"`                 // Vehicle drives out of range; 0 never
}

// Simulated paired devices.
var demoDevices = []Device{
	{Address: "98:D3:31:F5:2A:11", Name: "HC-06"},
	{Address: "00:21:13:00:4B:7C"},
}

func NewDemo(cfg DemoConfig) *Demo {
	return &Demo{cfg: cfg}
}

func (d *Demo) Name() string { return "Demo (Simulated)" }

func (d *Demo) ListBonded(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Device, len(demoDevices))
	copy(out, demoDevices)
	return out, nil
}

func (d *Demo) Open(ctx context.Context, dev Device, opts Options) (Conn, error) {
	if err := checkConnector(opts); err != nil {
		return nil, fmt.Errorf("demo: %q: %w", opts.ConnectorType, err)
	}
	if d.cfg.ConnectDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.cfg.ConnectDelay):
		}
	}
	if d.cfg.FailAddress != "" && strings.EqualFold(dev.Address, d.cfg.FailAddress) {
		return nil, fmt.Errorf("demo: page timeout for %s", dev.Address)
	}

	delim := opts.Delimiter
	if delim == "" {
		delim = DefaultDelimiter
	}
	c := &demoConn{
		delim:   delim,
		speed:   50,
		replies: make(chan string, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.run(d.cfg.TelemetryInterval, d.cfg.DropAfter)
	log.Printf("[demo] connected to %s", dev.DisplayName())
	return c, nil
}

// demoConn is the simulated vehicle behind one open link.
type demoConn struct {
	delim string
	disp  dispatcher

	mu       sync.Mutex
	closed   bool
	lost     error
	motion   string
	speed    int
	lights   bool
	distance float64 // cm, ultrasonic sensor
	battery  float64 // volts
	t        float64 // virtual time accumulator

	replies chan string
	stop    chan struct{}
	done    chan struct{}
}

func (c *demoConn) Write(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.lost != nil {
		return c.lost
	}
	for _, cmd := range strings.Split(text, c.delim) {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		select {
		case c.replies <- c.apply(cmd):
		default:
			// Firmware drops replies when its TX buffer is full.
		}
	}
	return nil
}

// apply updates the simulated state for one command. Caller holds mu.
func (c *demoConn) apply(cmd string) string {
	switch {
	case cmd == "FORWARD", cmd == "BACKWARD", cmd == "LEFT", cmd == "RIGHT":
		c.motion = cmd
	case cmd == "STOP":
		c.motion = ""
	case cmd == "LIGHT":
		c.lights = !c.lights
	case cmd == "HORN", cmd == "TURBO":
	case strings.HasPrefix(cmd, "SPEED:"):
		n, err := strconv.Atoi(strings.TrimPrefix(cmd, "SPEED:"))
		if err != nil || n < 0 || n > 100 {
			return "ERR:" + cmd
		}
		c.speed = n
	}
	return "OK:" + cmd
}

func (c *demoConn) Subscribe(onChunk func([]byte)) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.disp.subscribe(onChunk), nil
}

func (c *demoConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	<-c.done
	c.disp.clear()
	return nil
}

func (c *demoConn) Done() <-chan struct{} { return c.done }

func (c *demoConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost != nil {
		return c.lost
	}
	if c.closed {
		return ErrClosed
	}
	return nil
}

// emit delivers one CRLF-terminated reply split at random points.
func (c *demoConn) emit(line string) {
	data := []byte(line + "\r" + c.delim)
	for len(data) > 0 {
		n := 1 + rand.Intn(len(data))
		c.disp.deliver(data[:n])
		data = data[n:]
	}
}

func (c *demoConn) run(interval, dropAfter time.Duration) {
	defer close(c.done)
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	var drop <-chan time.Time
	if dropAfter > 0 {
		timer := time.NewTimer(dropAfter)
		defer timer.Stop()
		drop = timer.C
	}
	for {
		select {
		case <-c.stop:
			return
		case <-drop:
			c.mu.Lock()
			c.lost = fmt.Errorf("demo: %w: out of range", ErrLinkLost)
			c.mu.Unlock()
			c.disp.clear()
			log.Printf("[demo] vehicle out of range")
			return
		case r := <-c.replies:
			c.emit(r)
		case <-tick:
			for _, line := range c.telemetry(interval) {
				c.emit(line)
			}
		}
	}
}

func (c *demoConn) telemetry(interval time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t += interval.Seconds()

	// Obstacle distance oscillates; closing faster while driving forward
	c.distance = 60 + 50*math.Sin(c.t*0.4) + rand.Float64()*3
	if c.motion == "FORWARD" {
		c.distance -= float64(c.speed) * 0.3
	}
	if c.distance < 2 {
		c.distance = 2
	}

	// 2S Li-ion pack sagging under load
	load := 0.0
	if c.motion != "" {
		load = float64(c.speed) / 100 * 0.4
	}
	c.battery = 8.2 - math.Mod(c.t*0.001, 1.2) - load + rand.Float64()*0.05

	lines := []string{
		fmt.Sprintf("DIST:%.0f", c.distance),
		fmt.Sprintf("BAT:%.2f", c.battery),
	}
	if c.lights {
		lines = append(lines, "LIGHT:ON")
	}
	return lines
}
