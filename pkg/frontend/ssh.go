// Package frontend implements the SSH/SFTP/HTTP client-facing surface
// (§4.9): client multiplexing into per-console queues and file-bridge
// requests.
package frontend

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/juju/ratelimit"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"mpm2emu/pkg/bridge"
	"mpm2emu/pkg/console"
)

// SSHConfig configures the SSH front end.
type SSHConfig struct {
	HostKeyPath    string
	AuthorizedKeys string // path to an authorized_keys file; ignored if NoAuth
	NoAuth         bool

	// AcceptRate and AcceptBurst bound the connection accept rate via a
	// github.com/juju/ratelimit.Bucket, blunting a reconnect storm without
	// touching the CPU quantum.
	AcceptRate  float64
	AcceptBurst int64
}

// SSHServer accepts SSH connections and binds each interactive session to
// the first free console, and serves the `sftp` subsystem over the file
// bridge.
type SSHServer struct {
	consoles  *console.Registry
	bridge    *bridge.Bridge
	config    *ssh.ServerConfig
	bucket    *ratelimit.Bucket
	accessLog *logrus.Logger
}

// NewSSHServer builds an SSH server bound to consoles and br, using cfg for
// authentication and accept-rate policy.
func NewSSHServer(consoles *console.Registry, br *bridge.Bridge, cfg SSHConfig, accessLog *logrus.Logger) (*SSHServer, error) {
	keyBytes, err := os.ReadFile(cfg.HostKeyPath)
	if err != nil {
		return nil, fmt.Errorf("frontend: reading host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("frontend: parsing host key: %w", err)
	}

	var authorized map[string]bool
	if !cfg.NoAuth && cfg.AuthorizedKeys != "" {
		authorized, err = loadAuthorizedKeys(cfg.AuthorizedKeys)
		if err != nil {
			return nil, err
		}
	}

	sc := &ssh.ServerConfig{}
	if cfg.NoAuth {
		sc.NoClientAuth = true
	} else {
		sc.PublicKeyCallback = func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			fp := string(key.Marshal())
			if authorized[fp] {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("frontend: unauthorized key for user %s", c.User())
		}
	}
	sc.AddHostKey(signer)

	rate := cfg.AcceptRate
	if rate <= 0 {
		rate = 5
	}
	burst := cfg.AcceptBurst
	if burst <= 0 {
		burst = 10
	}

	return &SSHServer{
		consoles:  consoles,
		bridge:    br,
		config:    sc,
		bucket:    ratelimit.NewBucketWithRate(rate, burst),
		accessLog: accessLog,
	}, nil
}

func loadAuthorizedKeys(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("frontend: reading authorized keys: %w", err)
	}
	out := make(map[string]bool)
	for len(data) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			break
		}
		out[string(key.Marshal())] = true
		data = rest
	}
	return out, nil
}

// Serve accepts connections on ln until ln is closed.
func (s *SSHServer) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		s.bucket.Wait(1)
		go s.handleConn(conn)
	}
}

func (s *SSHServer) handleConn(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("frontend: recovered from SSH session panic")
		}
	}()

	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	con, ok := s.consoles.FirstFree()
	if !ok {
		logEvent(s.accessLog, "REJECT", sconn.RemoteAddr().String(), logrus.Fields{"reason": "no free console"})
		return
	}
	con.SetConnected(true)
	defer con.SetConnected(false)

	logEvent(s.accessLog, "CONNECT", sconn.RemoteAddr().String(), logrus.Fields{"console": con.Index})
	defer logEvent(s.accessLog, "DISCONNECT", sconn.RemoteAddr().String(), logrus.Fields{"console": con.Index})

	for newChan := range chans {
		switch newChan.ChannelType() {
		case "session":
			go s.handleSession(newChan, con)
		case "direct-tcpip":
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
		default:
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
}

func (s *SSHServer) handleSession(newChan ssh.NewChannel, con *console.Console) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("frontend: recovered from SSH session panic")
		}
	}()

	channel, requests, err := newChan.Accept()
	if err != nil {
		return
	}
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req", "shell", "exec":
			req.Reply(true, nil)
			if req.Type == "shell" || req.Type == "exec" {
				s.pumpConsole(channel, con)
				return
			}
		case "subsystem":
			name := parseSubsystemName(req.Payload)
			if name == "sftp" && s.bridge != nil {
				req.Reply(true, nil)
				if err := ServeSFTP(channel, s.bridge, bridge.DefaultTimeout); err != nil {
					logrus.WithError(err).Debug("frontend: sftp subsystem session ended")
				}
				return
			}
			req.Reply(false, nil)
		default:
			req.Reply(false, nil)
		}
	}
}

// parseSubsystemName decodes the string payload of a "subsystem" channel
// request (uint32 length prefix followed by the name, per RFC 4254 §6.5).
func parseSubsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	if n < 0 || 4+n > len(payload) {
		return ""
	}
	return string(payload[4 : 4+n])
}

// pumpConsole bridges an SSH channel's byte stream with con's input/output
// queues until either side closes.
func (s *SSHServer) pumpConsole(channel ssh.Channel, con *console.Console) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		buf := make([]byte, 1)
		for {
			n, err := channel.Read(buf)
			if n > 0 {
				con.PushInput(buf[0])
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for {
				b, ok := con.PopOutput()
				if !ok {
					break
				}
				if _, err := channel.Write([]byte{b}); err != nil {
					return
				}
			}
		}
	}
}
