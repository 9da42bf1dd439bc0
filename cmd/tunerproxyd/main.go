// Command tunerproxyd multiplexes physical TV tuner devices across remote
// clients speaking the BNDP wire protocol: a TCP listener accepts client
// connections and drives each through internal/session, a background
// scheduler keeps the channel database current via internal/scanner, and a
// small HTTP surface exposes status for operators.
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"github.com/tunerproxy/tunerproxyd/internal/channeldb"
	"github.com/tunerproxy/tunerproxyd/internal/config"
	"github.com/tunerproxy/tunerproxyd/internal/descrambler"
	"github.com/tunerproxy/tunerproxyd/internal/driverabi"
	"github.com/tunerproxy/tunerproxyd/internal/scanner"
	"github.com/tunerproxy/tunerproxyd/internal/session"
	"github.com/tunerproxy/tunerproxyd/internal/sharedtuner"
	"github.com/tunerproxy/tunerproxyd/internal/tunerpool"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		listen             = flag.String("listen", "", "wire-protocol TCP listen address")
		webListen          = flag.String("web-listen", "", "admin HTTP listen address")
		tunerPath          = flag.String("tuner", "", "driver path to register in the database if it is not already recorded")
		database           = flag.String("database", "", "path to the channel database")
		maxConnections     = flag.Int("max-connections", 0, "maximum concurrent wire-protocol connections (0 keeps the config/env default)")
		configFile         = flag.String("config", "", "KEY=VALUE config file, loaded into the environment before flags are applied")
		verbose            = flag.Bool("verbose", false, "enable verbose logging")
		enableScan         = flag.Bool("enable-scan", false, "force-enable the scan scheduler")
		scanOnStart        = flag.Bool("scan-on-start", false, "run one scan pass immediately on startup")
		scanInterval       = flag.Int("scan-interval", 0, "scan scheduler check interval, in seconds")
		maxConcurrentScans = flag.Int("max-concurrent-scans", 0, "maximum concurrent driver scans")
		logDir             = flag.String("log-dir", "", "log directory setting (stored in the config only; log output always goes to stderr)")
		logRetentionDays   = flag.Int("log-retention-days", 0, "log retention setting, in days (stored in the config only; nothing prunes logs)")
		tlsEnabled         = flag.Bool("tls", false, "require TLS on the wire-protocol listener")
		caCert             = flag.String("ca-cert", "", "PEM CA certificate for client verification")
		serverCert         = flag.String("server-cert", "", "PEM server certificate")
		serverKey          = flag.String("server-key", "", "PEM server private key")
	)
	flag.Parse()

	if *configFile != "" {
		if err := loadConfigFile(*configFile); err != nil {
			log.Printf("tunerproxyd: %v", err)
			return 1
		}
	}

	cfg := config.Load()
	applyFlagOverrides(cfg, flagOverrides{
		listen: *listen, webListen: *webListen, database: *database,
		maxConnections: *maxConnections, verbose: *verbose, enableScan: *enableScan,
		scanOnStart: *scanOnStart, scanInterval: *scanInterval, maxConcurrentScans: *maxConcurrentScans,
		logDir: *logDir, logRetentionDays: *logRetentionDays,
		tlsEnabled: *tlsEnabled, caCert: *caCert, serverCert: *serverCert, serverKey: *serverKey,
	})

	if cfg.Verbose {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}

	db, err := channeldb.Open(cfg.DatabasePath)
	if err != nil {
		log.Printf("tunerproxyd: open database %s: %v", cfg.DatabasePath, err)
		return 1
	}
	defer db.Close()

	if *tunerPath != "" {
		if _, err := db.GetOrCreateDriver(*tunerPath, channeldb.Driver{
			DisplayName:     *tunerPath,
			MaxInstances:    1,
			AutoScanEnabled: true,
			IntervalHours:   24,
			ScanPriority:    0,
		}); err != nil {
			log.Printf("tunerproxyd: register default driver %s: %v", *tunerPath, err)
			return 1
		}
	}

	var tlsConfig *tls.Config
	if cfg.TLSEnabled {
		tlsConfig, err = buildTLSConfig(cfg)
		if err != nil {
			log.Printf("tunerproxyd: tls config: %v", err)
			return 1
		}
	}

	pool := tunerpool.New(tunerpool.Config{
		KeepAlive:               cfg.KeepAlive(),
		PrewarmEnabled:          cfg.PrewarmEnabled,
		PrewarmTimeout:          cfg.PrewarmTimeout(),
		SetChannelRetryInterval: cfg.SetChannelRetryInterval(),
		SetChannelRetryTimeout:  cfg.SetChannelRetryTimeout(),
		SignalPollInterval:      cfg.SignalPollInterval(),
		SignalWaitTimeout:       cfg.SignalWaitTimeout(),
	})
	registry := session.NewRegistry()

	sched := scanner.New(scanner.Config{
		CheckInterval:      cfg.ScanInterval(),
		ScanTimeout:        cfg.ScanTimeout(),
		MaxConcurrentScans: cfg.MaxConcurrentScans,
		SignalLockWait:     cfg.ScanSignalLockWait(),
		TSReadTimeout:      cfg.ScanTSReadTimeout(),
		ScanOnStart:        cfg.ScanOnStart,
	}, scanner.Deps{
		DB:         db,
		OpenDriver: driverabi.Open,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.ScanEnabled {
		go sched.Run(ctx)
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Printf("tunerproxyd: listen %s: %v", cfg.Listen, err)
		return 1
	}
	if tlsConfig != nil {
		listener = tls.NewListener(listener, tlsConfig)
	}
	if cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxConnections)
	}

	admin := &http.Server{Addr: cfg.WebListen, Handler: adminMux(db, pool, sched, registry)}

	var nextID int64
	go acceptLoop(listener, session.Deps{
		DB:         db,
		Pool:       pool,
		OpenDriver: driverabi.Open,
		NewPipe:    noDescrambler,
		Registry:   registry,
	}, &nextID)

	go func() {
		log.Printf("tunerproxyd: admin http listening on %s", cfg.WebListen)
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("tunerproxyd: admin http: %v", err)
		}
	}()

	log.Printf("tunerproxyd: wire protocol listening on %s", cfg.Listen)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("tunerproxyd: shutting down")

	_ = listener.Close()
	cancel()
	if cfg.ScanEnabled {
		sched.Stop()
	}
	registry.ShutdownAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = admin.Shutdown(shutdownCtx)

	return 0
}

// noDescrambler is the NewPipeFunc used when no external descrambler
// implementation is configured: every reader loop forwards raw TS.
func noDescrambler(sharedtuner.ChannelKey) descrambler.Pipe { return nil }

func acceptLoop(listener net.Listener, deps session.Deps, nextID *int64) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		*nextID++
		id := *nextID
		go session.New(conn, deps, id).Run()
	}
}

func adminMux(db *channeldb.DB, pool *tunerpool.Pool, sched *scanner.Scheduler, registry *session.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		for _, snap := range registry.Snapshots() {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", snap.ID, snap.RemoteAddr, snap.State, snap.DriverPath)
		}
	})
	mux.HandleFunc("/drivers", func(w http.ResponseWriter, r *http.Request) {
		drivers, err := db.ListDrivers()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, d := range drivers {
			fmt.Fprintf(w, "%d\t%s\t%s\tnext_scan=%s\n", d.ID, d.Path, d.DisplayName, d.NextScanAt.Format(time.RFC3339))
		}
	})
	mux.HandleFunc("/scan/status", func(w http.ResponseWriter, r *http.Request) {
		for _, st := range sched.Status() {
			fmt.Fprintf(w, "%d\t%s\trunning=%v\t%s\n", st.DriverID, st.Path, st.Running, st.LastResult)
		}
	})
	mux.HandleFunc("/scan/trigger", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("driver_id")
		var driverID int64
		if _, err := fmt.Sscanf(id, "%d", &driverID); err != nil {
			http.Error(w, "driver_id required", http.StatusBadRequest)
			return
		}
		sched.TriggerScan(driverID)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/scan/pause", func(w http.ResponseWriter, r *http.Request) {
		sched.Pause()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/scan/resume", func(w http.ResponseWriter, r *http.Request) {
		sched.Resume()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// buildTLSConfig loads the server certificate/key and, if a CA certificate
// is given, requires and verifies client certificates against it.
func buildTLSConfig(cfg *config.Config) (*tls.Config, error) {
	if cfg.ServerCert == "" || cfg.ServerKey == "" {
		return nil, fmt.Errorf("tls enabled but --server-cert/--server-key not set")
	}
	cert, err := tls.LoadX509KeyPair(cfg.ServerCert, cfg.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read ca certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse ca certificate %s", cfg.CACert)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}

// loadConfigFile reads KEY=VALUE lines (# comments and blank lines
// ignored) and sets each as an environment variable before config.Load
// runs, leaving any variable already set in the environment untouched, so --config composes with the same env-var precedence the rest of
// the config package already uses.
func loadConfigFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	scan := bufio.NewScanner(f)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}
	return scan.Err()
}

type flagOverrides struct {
	listen, webListen, database       string
	maxConnections                    int
	verbose                           bool
	enableScan, scanOnStart           bool
	scanInterval, maxConcurrentScans  int
	logDir                            string
	logRetentionDays                  int
	tlsEnabled                        bool
	caCert, serverCert, serverKey     string
}

// applyFlagOverrides lets explicit CLI flags win over whatever config.Load
// picked up from the environment, per the CLI surface's documented
// precedence.
func applyFlagOverrides(cfg *config.Config, o flagOverrides) {
	if o.listen != "" {
		cfg.Listen = o.listen
	}
	if o.webListen != "" {
		cfg.WebListen = o.webListen
	}
	if o.database != "" {
		cfg.DatabasePath = o.database
	}
	if o.maxConnections > 0 {
		cfg.MaxConnections = o.maxConnections
	}
	if o.verbose {
		cfg.Verbose = true
	}
	if o.enableScan {
		cfg.ScanEnabled = true
	}
	if o.scanOnStart {
		cfg.ScanOnStart = true
	}
	if o.scanInterval > 0 {
		cfg.ScanIntervalSecs = o.scanInterval
	}
	if o.maxConcurrentScans > 0 {
		cfg.MaxConcurrentScans = o.maxConcurrentScans
	}
	if o.logDir != "" {
		cfg.LogDir = o.logDir
	}
	if o.logRetentionDays > 0 {
		cfg.LogRetentionDays = o.logRetentionDays
	}
	if o.tlsEnabled {
		cfg.TLSEnabled = true
	}
	if o.caCert != "" {
		cfg.CACert = o.caCert
	}
	if o.serverCert != "" {
		cfg.ServerCert = o.serverCert
	}
	if o.serverKey != "" {
		cfg.ServerKey = o.serverKey
	}
}
