// Package instance keeps one primary process per data directory and lets
// later launches hand their arguments to it.
package instance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

var ErrAlreadyRunning = errors.New("another instance is running")

const ioTimeout = 5 * time.Second

// Message is what a secondary launch forwards to the primary.
type Message struct {
	Args       []string `cbor:"1,keyasint"`
	WorkingDir string   `cbor:"2,keyasint,omitempty"`
}

type ack struct {
	OK bool `cbor:"1,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("instance: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1024}.DecMode()
	if err != nil {
		panic("instance: cbor decoder: " + err.Error())
	}
}

// Listener is the primary instance's end of the channel.
type Listener struct {
	path     string
	ln       net.Listener
	messages chan Message
	log      *zap.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen claims the instance socket at path. It returns ErrAlreadyRunning
// when a live primary answers on it and replaces the socket when stale.
func Listen(path string, log *zap.Logger) (*Listener, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create instance socket dir: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		conn, dialErr := net.DialTimeout("unix", path, time.Second)
		if dialErr == nil {
			conn.Close()
			return nil, ErrAlreadyRunning
		}
		log.Debug("removing stale instance socket", zap.String("path", path))
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("remove stale socket: %w", rmErr)
		}
		if ln, err = net.Listen("unix", path); err != nil {
			return nil, fmt.Errorf("listen on %s: %w", path, err)
		}
	}
	if err := os.Chmod(path, 0o600); err != nil {
		log.Warn("chmod instance socket", zap.Error(err))
	}

	return &Listener{
		path:     path,
		ln:       ln,
		messages: make(chan Message, 8),
		log:      log.Named("instance"),
	}, nil
}

// Messages delivers forwarded launches. It is closed after Serve returns.
func (l *Listener) Messages() <-chan Message {
	return l.messages
}

// Serve accepts forwarded launches until ctx is done.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	defer func() {
		l.wg.Wait()
		close(l.messages)
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(ctx, conn)
		}()
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ioTimeout))

	var msg Message
	if err := decMode.NewDecoder(conn).Decode(&msg); err != nil {
		l.log.Warn("decode forwarded launch", zap.Error(err))
		return
	}
	select {
	case l.messages <- msg:
	case <-ctx.Done():
		return
	}
	if err := encMode.NewEncoder(conn).Encode(ack{OK: true}); err != nil {
		l.log.Debug("ack forwarded launch", zap.Error(err))
	}
}

func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.ln.Close()
		_ = os.Remove(l.path)
	})
	return err
}

// Forward hands msg to the primary listening at path and waits for it to
// be accepted.
func Forward(ctx context.Context, path string, msg Message) error {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, ioTimeout)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "unix", path)
	if err != nil {
		return fmt.Errorf("dial primary instance: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(ioTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)

	if err := encMode.NewEncoder(conn).Encode(msg); err != nil {
		return fmt.Errorf("send launch: %w", err)
	}
	var reply ack
	if err := decMode.NewDecoder(conn).Decode(&reply); err != nil {
		return fmt.Errorf("await primary: %w", err)
	}
	if !reply.OK {
		return errors.New("primary instance refused launch")
	}
	return nil
}
