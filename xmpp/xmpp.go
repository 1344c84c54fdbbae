package xmpp

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-xmpp"
	log "github.com/sirupsen/logrus"
)

var ErrNotConfigured = errors.New("missing xmpp config")

type (
	// Config for the detection notices.
	Config struct {
		Host     string
		Jid      string
		Password string
		To       string
	}

	Xmpp struct {
		Config Config
	}
)

func serverName(jid string) string {
	parts := strings.SplitN(jid, "@", 2)
	if len(parts) < 2 {
		return jid
	}
	return strings.SplitN(parts[1], "/", 2)[0]
}

func (x Xmpp) Configured() bool {
	return len(x.Config.Jid) > 0 && len(x.Config.Password) > 0 && len(x.Config.To) > 0
}

func (x Xmpp) options() xmpp.Options {
	host := x.Config.Host
	if len(host) == 0 {
		host = serverName(x.Config.Jid)
	}

	return xmpp.Options{
		Host:          host,
		User:          x.Config.Jid,
		Password:      x.Config.Password,
		NoTLS:         true,
		StartTLS:      true,
		TLSConfig:     &tls.Config{ServerName: serverName(x.Config.Jid)},
		Debug:         false,
		Session:       false,
		Status:        "xa",
		StatusMessage: "Watching reference images",
	}
}

// Send opens a client, sends one chat message to the configured recipient
// and closes the client.
func (x Xmpp) Send(message string) error {
	if !x.Configured() {
		return ErrNotConfigured
	}

	options := x.options()
	log.Debugf("Connecting to xmpp server %s as %s", options.Host, options.User)
	talk, err := options.NewClient()
	if err != nil {
		return fmt.Errorf("xmpp connect %s: %w", options.Host, err)
	}
	defer talk.Close()

	if _, err := talk.Send(xmpp.Chat{Remote: x.Config.To, Type: "chat", Text: message}); err != nil {
		return fmt.Errorf("xmpp send to %s: %w", x.Config.To, err)
	}

	log.Debugf("Notice sent to %s", x.Config.To)
	return nil
}
