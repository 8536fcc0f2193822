package mail

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow_digest/internal/domain/notification"
	"workflow_digest/internal/infra/config"
)

var digest = &notification.RenderedDigest{
	Subject: "Workflow digest: 2 update(s)",
	Body:    "Tasks due soon (1)\n  - CycleTaskGroupObjectTask#10\n",
	Payload: []byte(`{"address":"alice@example.com","groups":[]}`),
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2015, 5, 6, 9, 0, 0, 0, time.UTC)
	evil := &notification.RenderedDigest{Subject: "Hi\r\nBcc: eve@example.com", Body: "line1\nline2\n"}

	msg := string(buildMessage("digest@example.com", "alice@example.com", evil, now))

	assert.True(t, strings.HasPrefix(msg, "From: digest@example.com\r\nTo: alice@example.com\r\n"))
	assert.Contains(t, msg, "Subject: Hi Bcc: eve@example.com\r\n", "header injection is flattened")
	assert.Contains(t, msg, "Date: Wed, 06 May 2015 09:00:00 +0000\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nline1\r\nline2\r\n"))
}

type recordingPublisher struct {
	exchange, key string
	msg           amqp091.Publishing
	err           error
}

func (p *recordingPublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	p.exchange, p.key, p.msg = exchange, key, msg
	return p.err
}

func TestAMQPSender_Send(t *testing.T) {
	pub := &recordingPublisher{}
	s := &AMQPSender{channel: pub, exchange: "notifications", routingKey: "digest.daily"}

	require.NoError(t, s.Send(context.Background(), "alice@example.com", digest))

	assert.Equal(t, "notifications", pub.exchange)
	assert.Equal(t, "digest.daily", pub.key)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, amqp091.Persistent, pub.msg.DeliveryMode)
	assert.NotEmpty(t, pub.msg.MessageId)

	var body map[string]any
	require.NoError(t, json.Unmarshal(pub.msg.Body, &body))
	assert.Equal(t, "alice@example.com", body["to"])
	assert.Equal(t, digest.Subject, body["subject"])
	assert.Equal(t, map[string]any{"address": "alice@example.com", "groups": []any{}}, body["digest"])
}

func TestAMQPSender_PublishFailure(t *testing.T) {
	cause := errors.New("channel closed")
	s := &AMQPSender{channel: &recordingPublisher{err: cause}}

	err := s.Send(context.Background(), "alice@example.com", digest)

	var se *notification.SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "publish failed", se.Reason)
	assert.ErrorIs(t, err, cause)
	assert.NoError(t, s.Close())
}

func TestLogSender(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	s := NewLogSender(logrus.NewEntry(l))

	assert.NoError(t, s.Send(context.Background(), "alice@example.com", digest))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, "alice@example.com", digest), context.Canceled)
}

func smtpConfig(ln net.Listener) config.SMTPConfig {
	return config.SMTPConfig{
		Host: "127.0.0.1",
		Port: ln.Addr().(*net.TCPAddr).Port,
		From: "digest@example.com",
	}
}

// stalledListener accepts connections and never answers them.
func stalledListener(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		var conns []net.Conn
		for {
			c, err := ln.Accept()
			if err != nil {
				for _, c := range conns {
					_ = c.Close()
				}
				return
			}
			conns = append(conns, c)
		}
	}()
	return ln
}

// serveSMTP answers one plain SMTP session and reports the DATA it received.
func serveSMTP(t *testing.T) (net.Listener, <-chan string) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tc := textproto.NewConn(conn)
		_ = tc.PrintfLine("220 localhost ESMTP")
		var data string
		for {
			line, err := tc.ReadLine()
			if err != nil {
				got <- data
				return
			}
			switch {
			case strings.HasPrefix(line, "EHLO"):
				_ = tc.PrintfLine("250-localhost")
				_ = tc.PrintfLine("250 8BITMIME")
			case line == "DATA":
				_ = tc.PrintfLine("354 go ahead")
				b, _ := tc.ReadDotBytes()
				data = string(b)
				_ = tc.PrintfLine("250 queued")
			case line == "QUIT":
				_ = tc.PrintfLine("221 bye")
				got <- data
				return
			default:
				_ = tc.PrintfLine("250 OK")
			}
		}
	}()
	return ln, got
}

func TestSMTPSender_Send(t *testing.T) {
	ln, got := serveSMTP(t)
	s := NewSMTPSender(smtpConfig(ln))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Send(ctx, "alice@example.com", digest))

	select {
	case data := <-got:
		assert.Contains(t, data, "To: alice@example.com\n")
		assert.Contains(t, data, "Subject: Workflow digest: 2 update(s)\n")
		assert.Contains(t, data, "CycleTaskGroupObjectTask#10")
	case <-time.After(5 * time.Second):
		t.Fatal("server never finished the session")
	}
}

func TestSMTPSender_StalledServerHonoursDeadline(t *testing.T) {
	s := NewSMTPSender(smtpConfig(stalledListener(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Send(ctx, "alice@example.com", digest)

	assert.Less(t, time.Since(start), 2*time.Second)
	var se *notification.SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "send timed out", se.Reason)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSMTPSender_CancelAbortsSession(t *testing.T) {
	s := NewSMTPSender(smtpConfig(stalledListener(t)))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	err := s.Send(ctx, "alice@example.com", digest)

	assert.Less(t, time.Since(start), 2*time.Second)
	var se *notification.SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "send timed out", se.Reason)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSMTPSender_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg := smtpConfig(ln)
	require.NoError(t, ln.Close())

	err = NewSMTPSender(cfg).Send(context.Background(), "alice@example.com", digest)

	var se *notification.SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "smtp delivery failed", se.Reason)
}
