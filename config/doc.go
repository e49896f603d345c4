/*
Package config holds the configuration file definition for imapd.

imapd uses a single static configuration file, imapd.conf. It is never
reloaded during the lifetime of a running imapd process; after changes,
imapd must be restarted for them to take effect.

Below is an "empty" config file, generated from the config file definition
in the source code, along with comments explaining the fields. Fields named
"x" are placeholders for user-chosen map keys.

# sconf

The config file is in "sconf" format. Properties of sconf files:

  - Indentation with tabs only.
  - "#" as first non-whitespace character makes the line a comment. Lines with a
    value cannot also have a comment.
  - Values don't have syntax indicating their type. For example, strings are
    not quoted/escaped and can never span multiple lines.
  - Fields that are optional can be left out completely. But the value of an
    optional field may itself have required fields.

See https://pkg.go.dev/github.com/mjl-/sconf for details.

# imapd.conf

	# NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be
	# on their own line, they don't end a line. Do not escape or quote strings.
	# Details: https://pkg.go.dev/github.com/mjl-/sconf.


	# Directory holding the maildir tree (eml/, tmp/, tmp/imap.rfc822/) for every
	# account. If this is a relative path, it is relative to the directory of
	# imapd.conf.
	DataDir:

	# Identifier for this frontend instance, used as the host_id component when
	# generating new message ids (mid) during APPEND.
	HostID:

	# Default log level, one of: error, info, debug, trace, traceauth, tracedata.
	# Trace logs IMAP protocol transcripts, with traceauth also AUTHENTICATE/LOGIN
	# credentials, and tracedata on top of that also literal bodies, which can be a
	# large amount of data.
	LogLevel:

	# Overrides of log level per package (e.g. imapserver, midb, maildir). (optional)
	PackageLogLevels:
		x:

	# Connection details for the MIDB index service, the exclusive owner of
	# per-folder metadata for this frontend.
	MIDB:

		# Network address (host:port) of the MIDB text-protocol endpoint.
		Address:

		# Dial timeout in seconds. 0 means use a built-in default. (optional)
		DialTimeout: 0

		# Per-request timeout in seconds. 0 means use a built-in default. (optional)
		RequestTimeout: 0

		# Maximum number of pooled connections to MIDB. 0 means use a built-in
		# default. (optional)
		PoolSize: 0

	# Listeners are groups of IP addresses and ports with IMAP (optionally
	# IMAP-over-TLS) enabled.
	Listeners:
		x:

			# Network addresses to listen on, e.g. 0.0.0.0 and/or ::.
			IPs:
				-

			# IMAP service on this listener. (optional)
			IMAP:

				# (optional)
				Enabled: false

				# Default 143. (optional)
				Port: 0

				# If true, this listener is IMAP-over-TLS (port 993-style) rather than
				# plaintext-with-STARTTLS. (optional)
				TLS: false

				# (optional)
				TLSCert:

				# (optional)
				TLSKey:

	# Default language tag. Accepted in the config file but not used in any
	# response. (optional)
	DefaultLang:

	# Whether the ID command (RFC 2971) is advertised and accepted. (optional)
	EnableRFC2971Commands: false

	# If true, require STARTTLS (or an already-TLS listener) before
	# LOGIN/AUTHENTICATE is accepted. (optional)
	ForceTLS: false

	# If true, advertise STARTTLS capability on plaintext listeners. (optional)
	SupportTLS: false

	# Maximum number of failed authentication attempts on a single connection
	# before it is dropped with BYE. 0 means use a built-in default. (optional)
	MaxAuthTimes: 0

	# Number of failed authentications for a single remote address. Accepted in the
	# config file but not consulted: failed authentications are limited only per
	# connection, by MaxAuthTimes. (optional)
	BlockAuthFail: 0

	# Known accounts, keyed by login name. Each account's credentials are derived
	# once (e.g. with the gendigest subcommand) and stored here in hashed/salted
	# form, never in plain text.
	Accounts:
		x:

			# Bcrypt hash of the account's password, for LOGIN and SASL PLAIN.
			Hash:

			# Salted password for SASL SCRAM-SHA-1.
			SCRAMSHA1:
				Iterations: 0
				Salt:
				SaltedPassword:

			# Salted password for SASL SCRAM-SHA-256.
			SCRAMSHA256:
				Iterations: 0
				Salt:
				SaltedPassword:

			# Login names this account may act as via the "user!target"
			# LOGIN/AUTHENTICATE syntax. (optional)
			CanImpersonate:
				-

	# If set, address (e.g. localhost:8011) to serve Prometheus metrics on.
	# (optional)
	MetricsAddress:
*/
package config
