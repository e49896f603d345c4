// Command imapd runs the IMAP frontend: it parses imapd.conf, wires up
// the MIDB client and the per-account maildir trees, and serves IMAP
// until asked to shut down.
package main

import (
	"bufio"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mjl-/sconf"

	"github.com/oxidemail/imapd/accounts"
	"github.com/oxidemail/imapd/config"
	"github.com/oxidemail/imapd/imapserver"
	"github.com/oxidemail/imapd/internal/daemon"
	"github.com/oxidemail/imapd/internal/mlog"
	"github.com/oxidemail/imapd/maildir"
	"github.com/oxidemail/imapd/midb"
)

var log = mlog.New("imapd")

var commands = []struct {
	cmd string
	fn  func(args []string)
}{
	{"serve", cmdServe},
	{"config describe", cmdConfigDescribe},
	{"config test", cmdConfigTest},
	{"gendigest", cmdGendigest},
	{"version", cmdVersion},
}

func main() {
	args := os.Args[1:]
	for i := len(commands) - 1; i >= 0; i-- {
		c := commands[i]
		words := strings.Fields(c.cmd)
		if len(args) >= len(words) && strings.Join(args[:len(words)], " ") == c.cmd {
			c.fn(args[len(words):])
			return
		}
	}
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: imapd serve -config imapd.conf")
	fmt.Fprintln(os.Stderr, "       imapd config describe")
	fmt.Fprintln(os.Stderr, "       imapd config test -config imapd.conf")
	fmt.Fprintln(os.Stderr, "       imapd gendigest")
	fmt.Fprintln(os.Stderr, "       imapd version")
}

func cmdVersion(args []string) {
	fmt.Println("imapd (development build)")
}

// cmdConfigDescribe prints an annotated example imapd.conf, the way a
// new deployment would bootstrap its configuration file.
func cmdConfigDescribe(args []string) {
	var sc config.Static
	sc.DataDir = "data"
	sc.HostID = "imapd1"
	sc.LogLevel = "info"
	sc.MIDB.Address = "localhost:2500"
	sc.Listeners = map[string]config.Listener{
		"local": {IPs: []string{"0.0.0.0", "::"}},
	}
	if err := sconf.Describe(os.Stdout, &sc); err != nil {
		log.Fatalx("describing config", err)
	}
}

func cmdConfigTest(args []string) {
	fs := flag.NewFlagSet("config test", flag.ExitOnError)
	configPath := fs.String("config", "imapd.conf", "path to configuration file")
	fs.Parse(args)

	var sc config.Static
	if err := sconf.ParseFile(*configPath, &sc); err != nil {
		log.Fatalx("parsing config", err)
	}
	if err := sc.Check(); err != nil {
		log.Fatalx("checking config", err)
	}
	fmt.Println("config OK")
}

// cmdGendigest prompts for a password on stdin and prints the bcrypt
// and SCRAM digests to put in an Account's config stanza.
func cmdGendigest(args []string) {
	fmt.Fprint(os.Stderr, "password: ")
	r := bufio.NewReader(os.Stdin)
	line, err := r.ReadString('\n')
	if err != nil {
		log.Fatalx("reading password", err)
	}
	password := strings.TrimRight(line, "\r\n")

	hash, err := accounts.HashPassword(password)
	if err != nil {
		log.Fatalx("hashing password", err)
	}
	sha1scram := accounts.ScramSHA1(password)
	sha256scram := accounts.ScramSHA256(password)

	fmt.Printf("Hash: %s\n", hash)
	fmt.Printf("SCRAMSHA1:\n\tIterations: %d\n\tSalt: %s\n\tSaltedPassword: %s\n",
		sha1scram.Iterations, sconfBytes(sha1scram.Salt), sconfBytes(sha1scram.SaltedPassword))
	fmt.Printf("SCRAMSHA256:\n\tIterations: %d\n\tSalt: %s\n\tSaltedPassword: %s\n",
		sha256scram.Iterations, sconfBytes(sha256scram.Salt), sconfBytes(sha256scram.SaltedPassword))
}

// sconfBytes renders a []byte the way sconf expects it in a config
// file: base64, matching parseSlice's reflect.Uint8 element case.
func sconfBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "imapd.conf", "path to configuration file")
	loglevel := fs.String("loglevel", "", "override the configured default log level")
	dev := fs.Bool("dev", false, "serve against an in-memory MIDB fake instead of dialing MIDB.Address, for local development")
	fs.Parse(args)

	var sc config.Static
	if err := sconf.ParseFile(*configPath, &sc); err != nil {
		log.Fatalx("parsing config", err)
	}
	if *dev {
		// -dev serves against an in-memory MIDB fake, so MIDB.Address is
		// allowed to be unset; check everything else.
		sc.MIDB.Address = "dev"
	}
	if err := sc.Check(); err != nil {
		log.Fatalx("checking config", err)
	}

	levelName := sc.LogLevel
	if *loglevel != "" {
		levelName = *loglevel
	}
	level, ok := mlog.Levels[levelName]
	if !ok {
		log.Fatal("unknown log level", mlog.Field("loglevel", levelName))
	}
	levels := map[string]mlog.Level{"": level}
	for pkg, name := range sc.PackageLogLevels {
		pl, ok := mlog.Levels[name]
		if !ok {
			log.Fatal("unknown package log level", mlog.Field("package", pkg), mlog.Field("loglevel", name))
		}
		levels[pkg] = pl
	}
	mlog.SetConfig(levels)

	dataDir := sc.DataDir
	if !filepath.IsAbs(dataDir) {
		abs, err := filepath.Abs(filepath.Join(filepath.Dir(*configPath), dataDir))
		if err != nil {
			log.Fatalx("resolving data dir", err)
		}
		dataDir = abs
	}

	var client midb.Client
	if *dev {
		log.Print("serving against an in-memory MIDB fake; no MIDB process will be contacted")
		client = midb.NewFake()
	} else {
		dialTimeout := time.Duration(sc.MIDB.DialTimeout) * time.Second
		if dialTimeout == 0 {
			dialTimeout = 5 * time.Second
		}
		requestTimeout := time.Duration(sc.MIDB.RequestTimeout) * time.Second
		if requestTimeout == 0 {
			requestTimeout = 30 * time.Second
		}
		poolSize := sc.MIDB.PoolSize
		if poolSize == 0 {
			poolSize = 10
		}
		client = midb.NewTextClient(sc.MIDB.Address, dialTimeout, requestTimeout, poolSize)
	}

	auth, err := accounts.New(sc)
	if err != nil {
		log.Fatalx("loading accounts", err)
	}

	var rootsMu sync.Mutex
	roots := map[string]*maildir.Root{}
	maildirFor := func(account string) *maildir.Root {
		rootsMu.Lock()
		defer rootsMu.Unlock()
		if r, ok := roots[account]; ok {
			return r
		}
		r := maildir.NewRoot(filepath.Join(dataDir, account))
		if err := r.Init(); err != nil {
			log.Fatalx("initializing maildir", err, mlog.Field("account", account))
		}
		roots[account] = r
		return r
	}

	imapserver.Init(imapserver.Options{
		MIDB:    client,
		Maildir: maildirFor,
		Hub:     imapserver.NewHub(),
		Config:  sc,
		Auth:    auth,
	})

	if sc.MetricsAddress != "" {
		go serveMetrics(sc.MetricsAddress)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		log.Print("shutting down, waiting for existing connections", mlog.Field("signal", sig.String()))
		shutdown()
		os.Exit(0)
	}()

	log.Print("ready to serve", mlog.Field("config", *configPath))
	imapserver.Listen()
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorx("serving metrics", err, mlog.Field("addr", addr))
	}
}

// shutdown mirrors the teacher's two-stage grace period: give active
// connections three seconds to finish on their own, then force an immediate
// i/o deadline and give them one more second to unwind.
func shutdown() {
	daemon.ShutdownCancel()

	done := daemon.Connections.Done()
	select {
	case <-done:
		time.Sleep(time.Second)
	case <-time.After(3 * time.Second):
		daemon.ContextCancel()
		daemon.Connections.ShutdownNow()
		select {
		case <-done:
		case <-time.After(time.Second):
			log.Print("shutting down with pending sockets")
		}
	}
}
