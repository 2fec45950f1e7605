// Package xmpp connects the bot to an XMPP server with go-xmpp and turns
// stanzas into transport events.
package xmpp

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	goxmpp "github.com/xmppo/go-xmpp"

	rtsup "mucbot/internal/runtime/supervisor"
	"mucbot/internal/transport"
	logx "mucbot/pkg/logx"
)

var ErrNotConnected = errors.New("xmpp: not connected")

type Config struct {
	JID      string
	Password string
	// Server is host[:port]; empty means the JID domain.
	Server   string
	Resource string

	NoTLS              bool
	StartTLS           bool
	InsecureSkipVerify bool

	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// KeepAlive is the client-to-server ping interval; <=0 disables it.
	KeepAlive time.Duration
	Debug     bool
}

// Adapter is a reconnecting XMPP session. Each connection is one "session":
// it emits EventSessionStart once authenticated and EventDisconnected when
// it ends, after which the supervisor dials again with backoff.
type Adapter struct {
	cfg Config
	log logx.Logger

	mu     sync.Mutex
	client *goxmpp.Client
	joined map[string]string // room -> our nick, current session only
	sup    *rtsup.Supervisor

	sendMu sync.Mutex
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 5 * time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	return &Adapter{cfg: cfg, log: log, joined: map[string]string{}}
}

// Start runs sessions until ctx is cancelled or Stop is called.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Event) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "xmpp.sup"))))
	a.mu.Lock()
	a.sup = sup
	a.mu.Unlock()

	sup.GoRestart("xmpp.session", func(ctx context.Context) error {
		return a.session(ctx, out)
	}, rtsup.WithRestartBackoff(a.cfg.ReconnectMin, a.cfg.ReconnectMax))

	<-sup.Context().Done()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	client := a.client
	a.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

func (a *Adapter) session(ctx context.Context, out chan<- transport.Event) error {
	a.log.Info("connecting", logx.String("jid", a.cfg.JID), logx.String("server", a.host()))
	client, err := a.dial()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	a.mu.Lock()
	a.client = client
	a.joined = map[string]string{}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.client == client {
			a.client = nil
		}
		a.mu.Unlock()
		_ = client.Close()
	}()
	// Recv has no context; closing the connection is what unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if a.cfg.KeepAlive > 0 {
		kctx, kcancel := context.WithCancel(ctx)
		defer kcancel()
		go a.keepAlive(kctx, client)
	}

	a.log.Info("session started", logx.String("jid", client.JID()))
	emit(ctx, out, transport.Event{Kind: transport.EventSessionStart})

	for {
		st, err := client.Recv()
		if err != nil {
			if ctx.Err() != nil {
				emit(ctx, out, transport.Event{Kind: transport.EventDisconnected})
				return nil
			}
			a.log.Warn("disconnected from server", logx.Err(err))
			emit(ctx, out, transport.Event{Kind: transport.EventDisconnected, Err: err})
			return err
		}
		if ev, ok := translate(st, a.isJoined); ok {
			emit(ctx, out, ev)
		}
	}
}

func (a *Adapter) keepAlive(ctx context.Context, client *goxmpp.Client) {
	t := time.NewTicker(a.cfg.KeepAlive)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.sendMu.Lock()
			err := client.PingC2S("", "")
			a.sendMu.Unlock()
			if err != nil {
				a.log.Debug("keepalive ping failed", logx.Err(err))
			}
		}
	}
}

func (a *Adapter) host() string {
	if s := strings.TrimSpace(a.cfg.Server); s != "" {
		if _, _, err := net.SplitHostPort(s); err == nil {
			return s
		}
		return net.JoinHostPort(s, "5222")
	}
	_, domain, _ := strings.Cut(bareJID(a.cfg.JID), "@")
	return net.JoinHostPort(domain, "5222")
}

func (a *Adapter) dial() (*goxmpp.Client, error) {
	host := a.host()
	serverName, _, _ := net.SplitHostPort(host)
	opts := goxmpp.Options{
		Host:                         host,
		User:                         a.cfg.JID,
		Password:                     a.cfg.Password,
		Resource:                     a.cfg.Resource,
		NoTLS:                        a.cfg.NoTLS,
		StartTLS:                     a.cfg.StartTLS,
		InsecureAllowUnencryptedAuth: a.cfg.NoTLS && !a.cfg.StartTLS,
		TLSConfig: &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: a.cfg.InsecureSkipVerify,
		},
		Session: true,
		Debug:   a.cfg.Debug,
	}
	return opts.NewClient()
}

func (a *Adapter) current() (*goxmpp.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil, ErrNotConnected
	}
	return a.client, nil
}

func (a *Adapter) isJoined(room string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.joined[room]
	return ok
}

func (a *Adapter) Send(_ context.Context, to, body string, kind transport.MessageKind) error {
	client, err := a.current()
	if err != nil {
		return err
	}
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	_, err = client.Send(goxmpp.Chat{Remote: to, Type: string(kind), Text: body})
	return err
}

func (a *Adapter) JoinRoom(_ context.Context, room, nick, password string) error {
	client, err := a.current()
	if err != nil {
		return err
	}
	// Mark first so the self-presence echo is not dropped as foreign.
	a.mu.Lock()
	a.joined[room] = nick
	a.mu.Unlock()

	a.sendMu.Lock()
	if password == "" {
		_, err = client.JoinMUCNoHistory(room, nick)
	} else {
		_, err = client.JoinProtectedMUC(room, nick, password, goxmpp.NoHistory, 0, nil)
	}
	a.sendMu.Unlock()

	if err != nil {
		a.mu.Lock()
		delete(a.joined, room)
		a.mu.Unlock()
		return err
	}
	return nil
}

func (a *Adapter) LeaveRoom(_ context.Context, room, nick, reason string) error {
	client, err := a.current()
	if err != nil {
		return err
	}
	var status strings.Builder
	_ = xml.EscapeText(&status, []byte(reason))

	a.sendMu.Lock()
	_, err = client.SendOrg(fmt.Sprintf("<presence to='%s/%s' type='unavailable'><status>%s</status></presence>",
		xmlAttr(room), xmlAttr(nick), status.String()))
	a.sendMu.Unlock()
	if err != nil {
		return err
	}
	a.mu.Lock()
	delete(a.joined, room)
	a.mu.Unlock()
	return nil
}

func emit(ctx context.Context, out chan<- transport.Event, ev transport.Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func xmlAttr(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
