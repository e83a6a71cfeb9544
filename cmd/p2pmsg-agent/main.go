// Command p2pmsg-agent drives the public API of the secure channel
// core (§6) from a terminal or a parent process: it opens/initializes
// the vault, runs the connection manager, and exchanges newline-
// delimited JSON commands/events over stdio, in the vein of the
// teacher's flag-based cmd/flowersec-tunnel harness.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/duskline/p2pmsg/config"
	"github.com/duskline/p2pmsg/conn"
	"github.com/duskline/p2pmsg/crypto"
	"github.com/duskline/p2pmsg/errs"
	"github.com/duskline/p2pmsg/events"
	"github.com/duskline/p2pmsg/identity"
	"github.com/duskline/p2pmsg/internal/cmdutil"
	"github.com/duskline/p2pmsg/metrics"
	"github.com/duskline/p2pmsg/metrics/prom"
	"github.com/duskline/p2pmsg/store"
	"github.com/duskline/p2pmsg/vault"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: p2pmsg-agent <init-vault|rotate-passphrase|run> [flags]")
		return 2
	}
	sub, rest := args[0], args[1:]

	var err error
	switch sub {
	case "init-vault":
		err = runInitVault(rest, stdout, stderr)
	case "rotate-passphrase":
		err = runRotatePassphrase(rest, stdout, stderr)
	case "run":
		err = runAgent(rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown subcommand %q\n", sub)
		return 2
	}
	if err == nil {
		return 0
	}
	if cmdutil.IsUsage(err) {
		fmt.Fprintln(stderr, err)
		return 2
	}
	fmt.Fprintln(stderr, err)
	return errs.ExitCode(err)
}

// passphraseFromEnv reads a passphrase out of an environment variable
// rather than argv, so it never shows up in a process listing.
func passphraseFromEnv(flagName string) (string, error) {
	v := strings.TrimSpace(os.Getenv(flagName))
	if v == "" {
		return "", &cmdutil.UsageError{Msg: fmt.Sprintf("environment variable %s must hold the vault passphrase", flagName)}
	}
	return v, nil
}

func runInitVault(args []string, stdout, _ io.Writer) error {
	fs := flag.NewFlagSet("init-vault", flag.ContinueOnError)
	vaultDir := fs.String("vault-dir", cmdutil.EnvString("P2PMSG_VAULT_DIR", "data/vault"), "vault directory")
	passEnv := fs.String("passphrase-env", "P2PMSG_PASSPHRASE", "environment variable holding the new passphrase")
	if err := fs.Parse(args); err != nil {
		return &cmdutil.UsageError{Msg: err.Error()}
	}
	passphrase, err := passphraseFromEnv(*passEnv)
	if err != nil {
		return err
	}

	params := argon2ParamsFromEnv()
	v, err := vault.New(*vaultDir, params)
	if err != nil {
		return err
	}
	id, err := v.Initialize(passphrase)
	if err != nil {
		return err
	}
	defer id.Zero()
	return cmdutil.WriteJSON(stdout, map[string]string{
		"fingerprint": id.Fingerprint(),
		"vault_dir":   *vaultDir,
	}, true)
}

func runRotatePassphrase(args []string, stdout, _ io.Writer) error {
	fs := flag.NewFlagSet("rotate-passphrase", flag.ContinueOnError)
	vaultDir := fs.String("vault-dir", cmdutil.EnvString("P2PMSG_VAULT_DIR", "data/vault"), "vault directory")
	oldEnv := fs.String("old-passphrase-env", "P2PMSG_OLD_PASSPHRASE", "environment variable holding the current passphrase")
	newEnv := fs.String("new-passphrase-env", "P2PMSG_NEW_PASSPHRASE", "environment variable holding the new passphrase")
	if err := fs.Parse(args); err != nil {
		return &cmdutil.UsageError{Msg: err.Error()}
	}
	oldPass, err := passphraseFromEnv(*oldEnv)
	if err != nil {
		return err
	}
	newPass, err := passphraseFromEnv(*newEnv)
	if err != nil {
		return err
	}

	params := argon2ParamsFromEnv()
	v, err := vault.New(*vaultDir, params)
	if err != nil {
		return err
	}
	if err := v.RotatePassphrase(oldPass, newPass); err != nil {
		return err
	}
	return cmdutil.WriteJSON(stdout, map[string]string{"status": "rotated"}, true)
}

func argon2ParamsFromEnv() crypto.Argon2Params {
	timeCost, _ := cmdutil.EnvInt("P2PMSG_ARGON2_TIME_COST", 2)
	memoryKiB, _ := cmdutil.EnvInt("P2PMSG_ARGON2_MEMORY_KIB", 102400)
	parallelism, _ := cmdutil.EnvInt("P2PMSG_ARGON2_PARALLELISM", 8)
	return crypto.Argon2Params{
		TimeCost:    uint32(timeCost),
		MemoryKiB:   uint32(memoryKiB),
		Parallelism: uint8(parallelism),
	}
}

// ready is printed once to stdout as soon as the agent has a manager
// up, mirroring the teacher's startup-ready JSON line.
type ready struct {
	Fingerprint string `json:"fingerprint"`
	ListenPort  int    `json:"listen_port,omitempty"`
	MetricsAddr string `json:"metrics_addr,omitempty"`
	PID         int    `json:"pid"`
}

func runAgent(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	vaultDir := fs.String("vault-dir", cmdutil.EnvString("P2PMSG_VAULT_DIR", "data/vault"), "vault directory")
	passEnv := fs.String("passphrase-env", "P2PMSG_PASSPHRASE", "environment variable holding the vault passphrase")
	storePath := fs.String("store-path", cmdutil.EnvString("P2PMSG_STORE_PATH", "data/messages.db"), "encrypted message log path")
	listenPort := fs.Int("listen-port", mustEnvInt("P2PMSG_LISTEN_PORT", 0), "port to accept one peer on (0 disables listening)")
	dialHost := fs.String("dial-host", cmdutil.EnvString("P2PMSG_DIAL_HOST", ""), "peer host to dial (empty disables dialing)")
	dialPort := fs.Int("dial-port", mustEnvInt("P2PMSG_DIAL_PORT", 0), "peer port to dial")
	metricsAddr := fs.String("metrics-addr", cmdutil.EnvString("P2PMSG_METRICS_ADDR", ""), "address to serve Prometheus /metrics on (empty disables it)")
	if err := fs.Parse(args); err != nil {
		return &cmdutil.UsageError{Msg: err.Error()}
	}
	passphrase, err := passphraseFromEnv(*passEnv)
	if err != nil {
		return err
	}

	opts := config.DefaultOptions()
	opts.ListenPort = *listenPort
	if err := opts.Validate(); err != nil {
		return err
	}

	logger := log.New(stderr, "p2pmsg-agent: ", log.LstdFlags)

	params := argon2ParamsFromEnv()
	v, err := vault.New(*vaultDir, params)
	if err != nil {
		return err
	}
	id, err := v.Open(passphrase)
	if err != nil {
		return err
	}
	defer id.Zero()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgLog, err := store.Open(ctx, *storePath, []byte(id.SigPrivate))
	if err != nil {
		return err
	}
	defer msgLog.Close()

	peerStore := store.NewPeerStore(msgLog)
	bus := events.New(256)
	defer bus.Close()

	mgr := conn.New(opts, id, peerStore, msgLog, bus, logger)

	rdy := ready{Fingerprint: id.Fingerprint(), PID: os.Getpid()}
	if *metricsAddr != "" {
		reg := prom.NewRegistry()
		observer := prom.NewObserver(reg)
		mgr.SetRegistrar(observer)
		srv := startMetricsServer(*metricsAddr, reg, logger)
		defer srv.Close()
		rdy.MetricsAddr = *metricsAddr
	}

	sub := bus.Subscribe()
	defer sub.Unsubscribe()
	go forwardEvents(stdout, sub)

	if *listenPort > 0 {
		rdy.ListenPort = *listenPort
		go func() {
			if err := mgr.Listen(ctx, *listenPort); err != nil && ctx.Err() == nil {
				logger.Printf("listen failed: %v", err)
			}
		}()
	}
	if *dialHost != "" {
		go func() {
			if err := mgr.Dial(ctx, *dialHost, *dialPort); err != nil {
				logger.Printf("dial failed: %v", err)
			}
		}()
	}

	if err := cmdutil.WriteJSON(stdout, rdy, false); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		mgr.Disconnect("local_shutdown")
		cancel()
	}()

	dispatchCommands(ctx, stdout, bufio.NewScanner(os.Stdin), mgr, msgLog, id, logger)
	return nil
}

func mustEnvInt(key string, fallback int) int {
	v, err := cmdutil.EnvInt(key, fallback)
	if err != nil {
		return fallback
	}
	return v
}

// startMetricsServer binds the Prometheus handler built in metrics/prom
// onto an HTTP server and serves it in the background until Close.
func startMetricsServer(addr string, reg *prometheus.Registry, logger *log.Logger) io.Closer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	return srv
}

func forwardEvents(w io.Writer, sub *events.Subscription) {
	for e := range sub.Events() {
		_ = cmdutil.WriteJSON(w, e, false)
	}
}

// command is one line of stdin input: {"op":"send_text","text":"hi"}.
type command struct {
	Op              string `json:"op"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Text            string `json:"text"`
	FileName        string `json:"file_name"`
	FileData        []byte `json:"file_data"`
	PeerFingerprint string `json:"peer_fingerprint"`
	Verified        bool   `json:"verified"`
	Limit           int    `json:"limit"`
	Offset          int    `json:"offset"`
}

type response struct {
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

func dispatchCommands(ctx context.Context, w io.Writer, scanner *bufio.Scanner, mgr *conn.Manager, msgLog *store.Store, self identity.Identity, logger *log.Logger) {
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var cmd command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			cmdutil.WriteJSON(w, response{Error: err.Error()}, false)
			continue
		}
		resp := dispatchOne(ctx, &cmd, mgr, msgLog, self)
		if err := cmdutil.WriteJSON(w, resp, false); err != nil {
			logger.Printf("write response failed: %v", err)
			return
		}
	}
}

func dispatchOne(ctx context.Context, cmd *command, mgr *conn.Manager, msgLog *store.Store, self identity.Identity) response {
	switch cmd.Op {
	case "dial":
		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := mgr.Dial(dialCtx, cmd.Host, cmd.Port); err != nil {
			return errResponse(err)
		}
		return response{OK: true}
	case "send_text":
		if err := mgr.SendText(cmd.Text); err != nil {
			return errResponse(err)
		}
		return response{OK: true}
	case "send_file":
		if err := mgr.SendFile(cmd.FileName, cmd.FileData); err != nil {
			return errResponse(err)
		}
		return response{OK: true}
	case "disconnect":
		if err := mgr.Disconnect("user_requested"); err != nil {
			return errResponse(err)
		}
		return response{OK: true}
	case "verify_peer":
		if err := msgLog.SetVerified(ctx, cmd.PeerFingerprint, cmd.Verified); err != nil {
			return errResponse(err)
		}
		return response{OK: true}
	case "local_fingerprint":
		return response{OK: true, Data: self.Fingerprint()}
	case "current_peer":
		fp, connected := mgr.CurrentPeer()
		return response{OK: true, Data: map[string]interface{}{"peer_fingerprint": fp, "connected": connected}}
	case "conversation_history":
		limit := cmd.Limit
		if limit <= 0 {
			limit = 100
		}
		msgs, err := msgLog.History(ctx, cmd.PeerFingerprint, limit, cmd.Offset)
		if err != nil {
			return errResponse(err)
		}
		return response{OK: true, Data: msgs}
	default:
		return response{Error: fmt.Sprintf("unknown op %q", cmd.Op)}
	}
}

func errResponse(err error) response {
	code, _ := errs.CodeOf(err)
	return response{Error: err.Error(), Data: map[string]string{"code": string(code)}}
}

var _ metrics.Registrar = (*prom.Observer)(nil)
