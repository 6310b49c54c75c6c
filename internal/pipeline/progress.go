package pipeline

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// progressReadTimeout bounds reads from the encoder so a connection that goes
// silent cannot outlive its job.
const progressReadTimeout = 30 * time.Second

// progressListener accepts the loopback connection ffmpeg opens when invoked
// with -progress tcp://ADDR and translates out_time_us lines into percentage
// callbacks. Percent is capped at 99; only the terminal datastore write may
// report 100.
type progressListener struct {
	listener net.Listener
	duration float64
	onUpdate func(percent float64)

	once sync.Once
	done chan struct{}
}

func newProgressListener(durationSeconds float64, onUpdate func(percent float64)) (*progressListener, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	p := &progressListener{
		listener: listener,
		duration: durationSeconds,
		onUpdate: onUpdate,
		done:     make(chan struct{}),
	}
	go p.serve()
	return p, nil
}

// Addr returns the tcp://host:port URL to pass to ffmpeg.
func (p *progressListener) Addr() string {
	return "tcp://" + p.listener.Addr().String()
}

// Stop closes the listener. Safe to call more than once.
func (p *progressListener) Stop() {
	p.once.Do(func() {
		p.listener.Close()
		close(p.done)
	})
}

func (p *progressListener) serve() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		go p.consume(conn)
	}
}

func (p *progressListener) consume(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	_ = conn.SetReadDeadline(time.Now().Add(progressReadTimeout))
	for scanner.Scan() {
		select {
		case <-p.done:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(progressReadTimeout))
		line := strings.TrimSpace(scanner.Text())
		value, ok := strings.CutPrefix(line, "out_time_us=")
		if !ok {
			continue
		}
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 || p.duration <= 0 {
			continue
		}
		percent := float64(us) / 1e6 / p.duration * 100
		if percent > 99 {
			percent = 99
		}
		if p.onUpdate != nil {
			p.onUpdate(percent)
		}
	}
}
