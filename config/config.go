// Package config holds the configuration file definitions for imapd.
package config

import (
	"fmt"
)

// Port returns port if non-zero, and fallback otherwise.
func Port(port, fallback int) int {
	if port == 0 {
		return fallback
	}
	return port
}

// Static is the parsed form of imapd.conf, the single static configuration
// file. It is read once at startup; imapd must be restarted for changes to
// take effect.
type Static struct {
	DataDir  string `sconf-doc:"NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be on their own line, they don't end a line. Do not escape or quote strings. Details: https://pkg.go.dev/github.com/mjl-/sconf.\n\n\nDirectory holding the maildir tree (eml/, tmp/, tmp/imap.rfc822/) for every account. If this is a relative path, it is relative to the directory of imapd.conf."`
	HostID   string `sconf-doc:"Identifier for this frontend instance, used as the host_id component when generating new message ids (mid) during APPEND."`
	LogLevel string `sconf-doc:"Default log level, one of: error, info, debug, trace, traceauth, tracedata. Trace logs IMAP protocol transcripts, with traceauth also AUTHENTICATE/LOGIN credentials, and tracedata on top of that also literal bodies, which can be a large amount of data."`

	PackageLogLevels map[string]string `sconf:"optional" sconf-doc:"Overrides of log level per package (e.g. imapserver, midb, maildir)."`

	MIDB MIDB `sconf-doc:"Connection details for the MIDB index service, the exclusive owner of per-folder metadata for this frontend."`

	Listeners map[string]Listener `sconf-doc:"Listeners are groups of IP addresses and ports with IMAP (optionally IMAP-over-TLS) enabled."`

	DefaultLang            string `sconf:"optional" sconf-doc:"Default language tag. Accepted in the config file but not used in any response."`
	EnableRFC2971Commands  bool   `sconf:"optional" sconf-doc:"Whether the ID command (RFC 2971) is advertised and accepted."`
	ForceTLS               bool   `sconf:"optional" sconf-doc:"If true, require STARTTLS (or an already-TLS listener) before LOGIN/AUTHENTICATE is accepted."`
	SupportTLS             bool   `sconf:"optional" sconf-doc:"If true, advertise STARTTLS capability on plaintext listeners."`
	MaxAuthTimes           int    `sconf:"optional" sconf-doc:"Maximum number of failed authentication attempts on a single connection before it is dropped with BYE. 0 means use a built-in default."`
	BlockAuthFail          int    `sconf:"optional" sconf-doc:"Number of failed authentications for a single remote address. Accepted in the config file but not consulted: failed authentications are limited only per connection, by MaxAuthTimes."`

	Accounts map[string]Account `sconf-doc:"Known accounts, keyed by login name. Each account's credentials are derived once (e.g. with the gendigest subcommand) and stored here in hashed/salted form, never in plain text."`

	MetricsAddress string `sconf:"optional" sconf-doc:"If set, address (e.g. localhost:8011) to serve Prometheus metrics on."`
}

// Account holds one login's credential digests, plus the accounts it is
// allowed to act as through the IMAP "user!target" impersonation syntax.
type Account struct {
	Hash        string `sconf-doc:"Bcrypt hash of the account's password, for LOGIN and SASL PLAIN."`
	SCRAMSHA1   SCRAM  `sconf-doc:"Salted password for SASL SCRAM-SHA-1."`
	SCRAMSHA256 SCRAM  `sconf-doc:"Salted password for SASL SCRAM-SHA-256."`

	CanImpersonate []string `sconf:"optional" sconf-doc:"Login names this account may act as via the \"user!target\" LOGIN/AUTHENTICATE syntax."`
}

// SCRAM holds the iteration count, salt and salted password needed to
// answer a SCRAM-SHA-1/256 exchange without storing the plaintext password.
type SCRAM struct {
	Iterations     int
	Salt           []byte
	SaltedPassword []byte
}

// MIDB holds the network address of the MIDB RPC endpoint this frontend
// forwards all persistence operations to.
type MIDB struct {
	Address        string `sconf-doc:"Network address (host:port) of the MIDB text-protocol endpoint."`
	DialTimeout    int    `sconf:"optional" sconf-doc:"Dial timeout in seconds. 0 means use a built-in default."`
	RequestTimeout int    `sconf:"optional" sconf-doc:"Per-request timeout in seconds. 0 means use a built-in default."`
	PoolSize       int    `sconf:"optional" sconf-doc:"Maximum number of pooled connections to MIDB. 0 means use a built-in default."`
}

// Listener is a set of addresses/ports on which IMAP is served.
type Listener struct {
	IPs  []string `sconf-doc:"Network addresses to listen on, e.g. 0.0.0.0 and/or ::."`
	IMAP struct {
		Enabled   bool   `sconf:"optional"`
		Port      int    `sconf:"optional" sconf-doc:"Default 143."`
		TLS       bool   `sconf:"optional" sconf-doc:"If true, this listener is IMAP-over-TLS (port 993-style) rather than plaintext-with-STARTTLS."`
		TLSCert   string `sconf:"optional"`
		TLSKey    string `sconf:"optional"`
	} `sconf:"optional" sconf-doc:"IMAP service on this listener."`
}

// Check verifies the static configuration is self-consistent enough to
// start serving (e.g. referenced TLS files are set in pairs).
func (s Static) Check() error {
	if s.DataDir == "" {
		return fmt.Errorf("DataDir must be set")
	}
	if s.MIDB.Address == "" {
		return fmt.Errorf("MIDB.Address must be set")
	}
	for name, l := range s.Listeners {
		if l.IMAP.TLS && (l.IMAP.TLSCert == "") != (l.IMAP.TLSKey == "") {
			return fmt.Errorf("listener %q: TLSCert and TLSKey must both be set or both be empty", name)
		}
	}
	for login, acc := range s.Accounts {
		if acc.Hash == "" {
			return fmt.Errorf("account %q: Hash must be set", login)
		}
		for _, target := range acc.CanImpersonate {
			if _, ok := s.Accounts[target]; !ok {
				return fmt.Errorf("account %q: CanImpersonate target %q is not a known account", login, target)
			}
		}
	}
	return nil
}
