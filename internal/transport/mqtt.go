package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

// MQTTTimeout bounds a subscription regardless of the test's own timeout.
const MQTTTimeout = 5 * time.Second

// StreamRequest describes one subscription.
type StreamRequest struct {
	Broker   string // tcp://host:port
	Topic    string
	Username string
	Password string
	Dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Subscriber delivers received data to onData until onData returns true, the
// context ends, or the connection fails. Stopping on request returns ErrAborted.
type Subscriber interface {
	Subscribe(ctx context.Context, req StreamRequest, onData func(chunk []byte) (stop bool)) error
}

// SubscribeMQTT waits for anything to be published on the target topic and hangs up
// on the first byte. Data arriving is success; silence until MQTTTimeout is a timeout.
func (e *Executor) SubscribeMQTT(ctx context.Context, spec domain.TestSpec, tgt target.Target, probeID string) (domain.TransportOutcome, error) {
	var out domain.TransportOutcome
	log := e.log.With(zap.Int("test_id", spec.ID), zap.String("probe_id", probeID))

	topic, err := url.PathUnescape(strings.TrimPrefix(tgt.Path, "/"))
	if err != nil {
		return out, domain.Validation(fmt.Errorf("mqtt topic %q: %w", tgt.Path, err))
	}

	capture, err := os.CreateTemp(e.tmpDir, fmt.Sprintf("mqtt_%d_%s_*.txt", spec.ID, probeID))
	if err != nil {
		log.Error("mqtt_capture_failed", zap.Error(err))
		return out, domain.Resource(domain.ErrCaptureFile)
	}
	defer func() {
		if err := multierr.Append(capture.Close(), os.Remove(capture.Name())); err != nil {
			log.Warn("mqtt_capture_cleanup_failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, MQTTTimeout)
	defer cancel()

	start := time.Now()
	dial := newTracer(start)
	req := StreamRequest{
		Broker: "tcp://" + tgt.Address(),
		Topic:  topic,
		Dial:   dial.DialContext,
	}
	if tgt.Embed {
		req.Username, req.Password = tgt.Username, tgt.Password
	}

	var (
		mu         sync.Mutex
		downloaded int64
		writeErr   error
	)
	err = e.subscriber.Subscribe(ctx, req, func(chunk []byte) bool {
		mu.Lock()
		defer mu.Unlock()
		n, werr := capture.Write(chunk)
		downloaded += int64(n)
		if werr != nil {
			writeErr = werr
			return true
		}
		return downloaded > 0
	})

	mu.Lock()
	received, werr := downloaded, writeErr
	mu.Unlock()

	if data, rerr := os.ReadFile(capture.Name()); rerr == nil {
		out.Body = data
	} else {
		log.Warn("mqtt_capture_read_failed", zap.Error(rerr))
	}
	finishTiming(&out, dial, time.Since(start))

	switch {
	case werr != nil:
		out.ErrorCode, out.ErrorText = CodeWriteError, "Failure writing output to destination"
	case err != nil:
		out.ErrorCode, out.ErrorText = code(ctx, err, "", out.Timing.Total, received)
	case received == 0:
		out.ErrorCode, out.ErrorText = code(ctx, context.DeadlineExceeded, "", out.Timing.Total, 0)
	}
	if out.ErrorCode == CodeAbortedByCallback {
		// we hung up on the first byte: that is the success case
		out.ErrorCode, out.ErrorText = CodeOK, ""
	}
	log.Debug("mqtt_done", zap.Int64("bytes", received), zap.Int("code", out.ErrorCode))
	return out, nil
}

type pahoSubscriber struct{}

// NewPahoSubscriber returns the production MQTT subscriber.
func NewPahoSubscriber() Subscriber { return pahoSubscriber{} }

func (pahoSubscriber) Subscribe(ctx context.Context, req StreamRequest, onData func([]byte) bool) error {
	opts := mqtt.NewClientOptions().
		AddBroker(req.Broker).
		SetClientID("servcheck-" + uuid.NewString()).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true)
	if dl, ok := ctx.Deadline(); ok {
		opts.SetConnectTimeout(timeUntil(dl))
	}
	if req.Username != "" {
		opts.SetUsername(req.Username)
		opts.SetPassword(req.Password)
	}
	dial := req.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	var (
		connMu sync.Mutex
		conn   net.Conn
		closed bool
	)
	opts.SetCustomOpenConnectionFn(func(uri *url.URL, _ mqtt.ClientOptions) (net.Conn, error) {
		c, err := dial(ctx, "tcp", uri.Host)
		if err != nil {
			return nil, err
		}
		connMu.Lock()
		defer connMu.Unlock()
		if closed {
			c.Close()
			return nil, net.ErrClosed
		}
		conn = c
		return c, nil
	})

	client := mqtt.NewClient(opts)
	// The socket is closed before returning even when connect or subscribe
	// is still pending.
	defer func() {
		if client.IsConnected() {
			client.Disconnect(0)
		}
		connMu.Lock()
		closed = true
		if conn != nil {
			conn.Close()
		}
		connMu.Unlock()
	}()
	if err := wait(ctx, client.Connect()); err != nil {
		return err
	}

	done := make(chan struct{})
	var once sync.Once
	handler := func(_ mqtt.Client, m mqtt.Message) {
		chunk := append([]byte(m.Topic()+" "), m.Payload()...)
		if onData(chunk) {
			once.Do(func() { close(done) })
		}
	}
	if err := wait(ctx, client.Subscribe(req.Topic, 0, handler)); err != nil {
		return err
	}

	select {
	case <-done:
		return ErrAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
