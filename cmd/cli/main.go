// Command syncctl is a CLI client for the sync service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AlAfiz/starked-education/internal/auth"
	"github.com/AlAfiz/starked-education/internal/convert"
	"github.com/AlAfiz/starked-education/internal/model"
	grpcserver "github.com/AlAfiz/starked-education/internal/server/grpc"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	Subject     string    `json:"subject"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "syncctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "syncctl")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok, sub string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, Subject: sub, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run syncctl token)")
	}
	return tf.AccessToken, nil
}

func devicePath() string { return filepath.Join(cfgDir(), "device_id") }

func saveDeviceID(id string) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	return os.WriteFile(devicePath(), []byte(strings.TrimSpace(id)), 0o600)
}

func loadDeviceID() (string, error) {
	b, err := os.ReadFile(devicePath())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

type transport struct {
	addr      string
	caPath    string
	skipCheck bool
	plaintext bool
}

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(ctx context.Context, t transport, bearer string) (*grpc.ClientConn, *grpcserver.Client, error) {
	creds := insecure.NewCredentials()
	if !t.plaintext {
		c, err := loadTLS(t.caPath, t.skipCheck)
		if err != nil {
			return nil, nil, err
		}
		creds = c
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !t.plaintext}))
	}
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	cc, err := grpc.DialContext(ctx, t.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewClient(cc), nil
}

// connect dials with the saved token.
func connect(ctx context.Context, t transport) (*grpc.ClientConn, *grpcserver.Client) {
	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	cc, cli, err := dial(ctx, t, token)
	if err != nil {
		fail(err)
	}
	return cc, cli
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

// parsePayload accepts inline JSON, @file or - for stdin.
func parsePayload(s string) (model.Payload, error) {
	if s == "" {
		return model.Payload{}, nil
	}
	raw := []byte(s)
	if s == "-" || strings.HasPrefix(s, "@") {
		var err error
		if raw, err = readAll(strings.TrimPrefix(s, "@")); err != nil {
			return nil, err
		}
	}
	var p model.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if p == nil {
		p = model.Payload{}
	}
	return p, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// printStruct prints an encoded response as its JSON object.
func printStruct(s *structpb.Struct, err error) {
	if err != nil {
		fail(err)
	}
	printJSON(s.AsMap())
}

func usage() {
	fmt.Fprintf(os.Stderr, `syncctl CLI
Usage:
  syncctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] [-device id] <cmd> [args]

Commands:
  version
  token      -key <hs256 key> -sub <user id> [-ttl 24h]   (saves token)
  register   -id <device id> [-name n] [-kind k]         (saves device id)
  unregister [-id <device id>]
  heartbeat  [-id <device id>]
  devices
  device     [-id <device id>]
  sync       -type <t> -id <entity> -version <v> [-payload json|@file|-] [-op create|update|delete] [-strategy s]
  progress   -course <id> -lesson <id> -percent <0..100> -version <v> [-offline]
  prefs      -set k=v [-set k=v ...] -version <v> [-offline]
  note       -id <entity> -text <t> -version <v> [-offline]
  status     [-type <t>] [-id <entity>]
  conflicts  -type <t> -id <entity>
  enqueue    -type <t> -id <entity> -version <v> [-payload ...] [-op ...]
  drain      [-all]
  queue
  pending
  clear
  watch                                                  (streams sync events)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	var t transport
	flag.StringVar(&t.addr, "addr", "localhost:8443", "server addr")
	flag.StringVar(&t.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&t.skipCheck, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&t.plaintext, "plaintext", false, "no TLS (server started with -insecure)")
	deviceFlag := flag.String("device", os.Getenv("SYNCCTL_DEVICE"), "device id (default: saved by register)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	device := func() string {
		if *deviceFlag != "" {
			return *deviceFlag
		}
		id, err := loadDeviceID()
		if err != nil || id == "" {
			fail(errors.New("no device id; pass -device or run register"))
		}
		return id
	}

	ctx, cancel := withTimeout()
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("syncctl %s (%s)\n", version, buildDate)

	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		key := fs.String("key", os.Getenv("SYNCD_JWT_KEY"), "HS256 signing key")
		sub := fs.String("sub", "", "user id")
		ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
		_ = fs.Parse(args)
		if *key == "" || *sub == "" {
			fmt.Fprintln(os.Stderr, "need -key and -sub")
			os.Exit(1)
		}
		tok, exp, err := auth.Issue([]byte(*key), *sub, *ttl, time.Now())
		if err != nil {
			fail(err)
		}
		if err := saveToken(tok, *sub, exp); err != nil {
			fail(err)
		}
		fmt.Println("ok, expires", exp.UTC().Format(time.RFC3339))

	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		id := fs.String("id", *deviceFlag, "device id")
		name := fs.String("name", "", "display name")
		kind := fs.String("kind", "cli", "device kind")
		_ = fs.Parse(args)
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		cc, cli := connect(ctx, t)
		defer cc.Close()

		d, err := cli.RegisterDevice(ctx, model.RegisterDevice{
			DeviceID: *id, Name: *name, Kind: *kind, UserAgent: "syncctl/" + version,
		})
		if err != nil {
			fail(err)
		}
		_ = saveDeviceID(d.ID)
		printJSON(convert.DeviceMap(d))

	case "unregister", "heartbeat", "device":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "device id (default: current device)")
		_ = fs.Parse(args)
		if *id == "" {
			*id = device()
		}
		cc, cli := connect(ctx, t)
		defer cc.Close()

		switch cmd {
		case "unregister":
			if err := cli.UnregisterDevice(ctx, *id); err != nil {
				fail(err)
			}
			fmt.Println("ok")
		case "heartbeat":
			if err := cli.Heartbeat(ctx, *id); err != nil {
				fail(err)
			}
			fmt.Println("ok")
		default:
			d, err := cli.GetDevice(ctx, *id)
			if err != nil {
				fail(err)
			}
			printJSON(convert.DeviceMap(d))
		}

	case "devices":
		cc, cli := connect(ctx, t)
		defer cc.Close()
		ds, err := cli.ListDevices(ctx)
		if err != nil {
			fail(err)
		}
		printStruct(convert.ToProtoDevices(ds))

	case "sync", "enqueue":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		typ := fs.String("type", string(model.EntityGeneric), "entity type")
		id := fs.String("id", "", "entity id")
		ver := fs.Int64("version", -1, "last server version seen (0 for new)")
		payload := fs.String("payload", "", "JSON object, @file or - for stdin")
		op := fs.String("op", "", "create|update|delete")
		strategy := fs.String("strategy", "", "conflict strategy (sync only)")
		_ = fs.Parse(args)
		if *id == "" || *ver < 0 {
			fmt.Fprintln(os.Stderr, "need -id and -version")
			os.Exit(1)
		}
		p, err := parsePayload(*payload)
		if err != nil {
			fail(err)
		}
		in := model.SyncInput{
			DeviceID: device(), EntityType: model.EntityType(*typ), EntityID: *id,
			Version: *ver, Payload: p, Operation: model.Operation(*op),
		}
		cc, cli := connect(ctx, t)
		defer cc.Close()
		submit(ctx, cli, in, *strategy, cmd == "enqueue")

	case "progress":
		cmdProgress(ctx, t, device(), args)
	case "prefs":
		cmdPrefs(ctx, t, device(), args)
	case "note":
		cmdNote(ctx, t, device(), args)

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		typ := fs.String("type", "", "entity type filter")
		id := fs.String("id", "", "entity id filter")
		_ = fs.Parse(args)
		cc, cli := connect(ctx, t)
		defer cc.Close()
		sts, err := cli.GetSyncStatus(ctx, convert.StatusFilter{EntityType: model.EntityType(*typ), EntityID: *id})
		if err != nil {
			fail(err)
		}
		printStruct(convert.ToProtoSyncStatuses(sts))

	case "conflicts":
		fs := flag.NewFlagSet("conflicts", flag.ExitOnError)
		typ := fs.String("type", "", "entity type")
		id := fs.String("id", "", "entity id")
		_ = fs.Parse(args)
		if *typ == "" || *id == "" {
			fmt.Fprintln(os.Stderr, "need -type and -id")
			os.Exit(1)
		}
		cc, cli := connect(ctx, t)
		defer cc.Close()
		recs, err := cli.GetConflictHistory(ctx, model.EntityType(*typ), *id)
		if err != nil {
			fail(err)
		}
		printStruct(convert.ToProtoConflictRecords(recs))

	case "drain":
		fs := flag.NewFlagSet("drain", flag.ExitOnError)
		all := fs.Bool("all", false, "drain every user's items (admin)")
		_ = fs.Parse(args)
		cc, cli := connect(ctx, t)
		defer cc.Close()
		var (
			res model.DrainResult
			err error
		)
		if *all {
			res, err = cli.ProcessQueue(ctx)
		} else {
			res, err = cli.ProcessQueueForUser(ctx)
		}
		if err != nil {
			fail(err)
		}
		printStruct(convert.ToProtoDrainResult(res))

	case "queue":
		cc, cli := connect(ctx, t)
		defer cc.Close()
		st, err := cli.GetQueueStatus(ctx)
		if err != nil {
			fail(err)
		}
		printStruct(convert.ToProtoQueueStatus(st))

	case "pending":
		cc, cli := connect(ctx, t)
		defer cc.Close()
		ops, err := cli.GetPendingItems(ctx)
		if err != nil {
			fail(err)
		}
		printStruct(convert.ToProtoQueuedOperations(ops))

	case "clear":
		cc, cli := connect(ctx, t)
		defer cc.Close()
		if err := cli.ClearQueue(ctx); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "watch":
		cancel()
		wctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		cc, cli := connect(wctx, t)
		defer cc.Close()
		if err := watch(wctx, cli, os.Stdout); err != nil {
			fail(err)
		}

	default:
		usage()
	}
}

// submit sends in directly or through the offline queue.
func submit(ctx context.Context, cli *grpcserver.Client, in model.SyncInput, strategy string, offline bool) {
	if offline {
		op, err := cli.Enqueue(ctx, model.QueuedOperation{
			DeviceID: in.DeviceID, EntityType: in.EntityType, EntityID: in.EntityID,
			Operation: in.Operation, Payload: in.Payload, Version: in.Version,
		})
		if err != nil {
			fail(err)
		}
		printJSON(convert.QueuedOperationMap(op))
		return
	}
	res, err := cli.SyncEntity(ctx, in, strategy)
	if err != nil {
		fail(err)
	}
	printStruct(convert.ToProtoSyncResult(res))
}

// watch prints events as JSON lines until ctx ends or the server closes.
func watch(ctx context.Context, cli *grpcserver.Client, w io.Writer) error {
	stream, err := cli.Subscribe(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		msg, err := convert.ToProtoEvent(ev)
		if err != nil {
			return err
		}
		if err := enc.Encode(msg.AsMap()); err != nil {
			return err
		}
	}
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
