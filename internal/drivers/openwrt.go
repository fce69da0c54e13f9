// internal/drivers/openwrt.go - OpenWrt (TP-Link) driver over SSH
package drivers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"monite/internal/config"
	"monite/internal/database"
)

const maxLogLines = 500

type commandRunner func(ctx context.Context, host *database.Host, command string) (string, error)

// OpenWrtDriver reads USSD replies the modem daemon already wrote to syslog.
// It never sends USSD itself so it cannot fight the modem for its port.
type OpenWrtDriver struct {
	cfg  config.OpenWrtConfig
	run  commandRunner
	ping func(ctx context.Context, target string) error
}

func NewOpenWrtDriver(cfg config.OpenWrtConfig) *OpenWrtDriver {
	d := &OpenWrtDriver{cfg: cfg}
	d.run = d.runSSH
	d.ping = func(ctx context.Context, target string) error {
		return Ping(ctx, target, cfg.PingTimeout)
	}
	return d
}

func (d *OpenWrtDriver) SupportedActions() []string {
	return []string{ActionQueryBalance, ActionReadUSSDLogs}
}

// Validate uses a single ICMP echo and needs no credentials.
func (d *OpenWrtDriver) Validate(ctx context.Context, host *database.Host) error {
	if err := d.ping(ctx, host.IP); err != nil {
		return transportErr("ping", err)
	}
	return nil
}

func (d *OpenWrtDriver) ExecuteAction(ctx context.Context, host *database.Host, actionKey string, params map[string]interface{}) (*Result, error) {
	switch NormalizeAction(actionKey) {
	case ActionQueryBalance:
		out, err := d.run(ctx, host, "sh -c 'logread -e USSD | tail -n 1'")
		if err != nil {
			return nil, err
		}

		out = strings.TrimSpace(out)
		line := out[strings.LastIndex(out, "\n")+1:]

		item := ParseSyslogLine(line)
		parsed := ParseUSSDMessages([]string{item.Message})
		parsed["message"] = item.Message
		if item.Time != nil {
			parsed["time"] = item.Time.Format("2006-01-02 15:04:05")
		}
		return &Result{Raw: line, Parsed: parsed}, nil

	case ActionReadUSSDLogs:
		n := intParam(params, "lines", d.cfg.LogLines)
		if n < 1 {
			n = 1
		}
		if n > maxLogLines {
			n = maxLogLines
		}

		out, err := d.run(ctx, host, fmt.Sprintf("sh -c 'logread -e USSD | tail -n %d'", n))
		if err != nil {
			return nil, err
		}

		var items []LogItem
		var messages []string
		for _, line := range strings.Split(out, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			item := ParseSyslogLine(line)
			items = append(items, item)
			messages = append(messages, item.Message)
		}

		raw, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("failed to encode log items: %w", err)
		}

		parsed := ParseUSSDMessages(messages)
		parsed["count"] = len(items)
		return &Result{Raw: string(raw), Parsed: parsed}, nil

	default:
		return nil, unsupported(TypeOpenWrtSSH, actionKey)
	}
}

func (d *OpenWrtDriver) clientConfig(host *database.Host) (*ssh.ClientConfig, error) {
	user := host.Username
	if user == "" {
		user = d.cfg.DefaultUser
	}

	var authMethods []ssh.AuthMethod
	if d.cfg.PrivateKeyPath != "" {
		key, err := os.ReadFile(d.cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if host.Password != "" {
		authMethods = append(authMethods, ssh.Password(host.Password))
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no ssh credentials configured for host %d", host.ID)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if d.cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(d.cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.cfg.DialTimeout,
	}, nil
}

func (d *OpenWrtDriver) runSSH(ctx context.Context, host *database.Host, command string) (string, error) {
	sshConfig, err := d.clientConfig(host)
	if err != nil {
		return "", &DriverError{Kind: KindAuth, Op: "ssh config", Err: err}
	}

	port := host.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(host.IP, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: d.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", transportErr("ssh dial", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		kind := KindTransport
		if strings.Contains(err.Error(), "unable to authenticate") {
			kind = KindAuth
		}
		return "", &DriverError{Kind: kind, Op: "ssh handshake", Err: err}
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", transportErr("ssh session", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(command); err != nil {
		return "", transportErr("ssh start", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		logrus.WithField("host_id", host.ID).Warn("SSH command cancelled")
		_ = session.Signal(ssh.SIGTERM)
		return "", transportErr("ssh run", ctx.Err())
	}

	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = err.Error()
		}
		return "", transportErr("ssh run", fmt.Errorf("%s", msg))
	}

	return strings.TrimSpace(stdout.String()), nil
}
