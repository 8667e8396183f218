package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"

	"github.com/sirdeggen/bsv-overlay-skill/chaincache"
	"github.com/sirdeggen/bsv-overlay-skill/dispatch"
	"github.com/sirdeggen/bsv-overlay-skill/funding"
	"github.com/sirdeggen/bsv-overlay-skill/indexer"
	"github.com/sirdeggen/bsv-overlay-skill/ledger"
	ledgersqlite "github.com/sirdeggen/bsv-overlay-skill/ledger/sqlite"
	"github.com/sirdeggen/bsv-overlay-skill/overlay"
	"github.com/sirdeggen/bsv-overlay-skill/payload"
	"github.com/sirdeggen/bsv-overlay-skill/payments"
	"github.com/sirdeggen/bsv-overlay-skill/relay"
	"github.com/sirdeggen/bsv-overlay-skill/statestore"
	statebadger "github.com/sirdeggen/bsv-overlay-skill/statestore/badger"
	statememory "github.com/sirdeggen/bsv-overlay-skill/statestore/memory"
	"github.com/sirdeggen/bsv-overlay-skill/txbuilder"
)

func main() {
	// Identity and state
	keyHex := flag.String("key", "", "Identity private key (hex)")
	stateDir := flag.String("state-dir", "./data", "State directory for frontier and ledger")
	storageType := flag.String("storage", "badger", "Storage type: memory or badger")
	network := flag.String("network", funding.NetworkTest, "Network: main or test")

	// Collaborators
	indexerURL := flag.String("indexer-url", "https://api.whatsonchain.com/v1/bsv/test", "Block explorer base URL")
	relayURL := flag.String("relay-url", "", "Relay base URL")
	overlayURL := flag.String("overlay-url", "", "Overlay base URL")
	topic := flag.String("topic", "tm_agents", "Overlay topic for submitted bundles")
	protocolID := flag.String("protocol-id", "agentpay", "Protocol id for on-chain memo outputs")
	allowSynthetic := flag.Bool("allow-synthetic", false, "Enable synthetic funding (refused on mainnet)")

	// Modes
	listen := flag.Bool("listen", false, "Listen for relay messages and dispatch them")
	inbox := flag.Bool("inbox", false, "Poll the relay inbox once and dispatch queued messages")
	pay := flag.String("pay", "", "Pay -satoshis to this address")
	request := flag.String("request", "", "Send a paid service request to this identity")
	ping := flag.String("ping", "", "Send a ping to this identity")
	sweep := flag.String("sweep", "", "Sweep the cached frontier to this address")
	frontier := flag.Bool("frontier", false, "Show the cached frontier")
	balance := flag.Bool("balance", false, "Show the unspent balance on the identity address")

	// Mode parameters
	satoshis := flag.Uint64("satoshis", 0, "Amount for -pay or -request")
	memo := flag.String("memo", "", "Attach an on-chain memo output to -pay")
	service := flag.String("service", "echo", "Service name for -request")
	input := flag.String("input", "{}", "JSON input for -request")
	echoPrice := flag.Uint64("echo-price", 50, "Price of the built-in echo service in -listen mode")

	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	// Set up slog with the specified level
	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if *keyHex == "" {
		log.Fatal("-key is required")
	}
	key, err := ec.PrivateKeyFromHex(*keyHex)
	if err != nil {
		log.Fatalf("Failed to parse identity key: %v", err)
	}

	// Frontier storage
	var store statestore.Store
	switch *storageType {
	case "memory":
		store = statememory.New()
	case "badger":
		store, err = statebadger.New(&statebadger.Config{
			DataDir: filepath.Join(*stateDir, "state"),
		})
		if err != nil {
			log.Fatalf("Failed to initialize BadgerDB: %v", err)
		}
	default:
		log.Fatalf("Unknown storage type: %s (use 'memory' or 'badger')", *storageType)
	}
	defer store.Close()
	cache := chaincache.New(store, logger)

	// Payment ledger
	ledgerStore, err := ledgersqlite.New(&ledgersqlite.Config{
		DBPath: filepath.Join(*stateDir, "payments.db"),
	})
	if err != nil {
		log.Fatalf("Failed to open payment ledger: %v", err)
	}
	defer ledgerStore.Close()

	explorer, err := indexer.New(&indexer.Config{BaseURL: *indexerURL}, logger)
	if err != nil {
		log.Fatalf("Failed to create explorer client: %v", err)
	}

	builder, err := txbuilder.New(key, *network == funding.NetworkMain, txbuilder.DefaultFeePolicy, cache, logger)
	if err != nil {
		log.Fatalf("Failed to create transaction builder: %v", err)
	}

	tiers := []funding.Tier{
		&funding.CacheTier{Cache: cache},
		&funding.IndexerTier{Client: explorer, Address: builder.Address()},
	}
	if *allowSynthetic {
		tiers = append(tiers, &funding.SyntheticTier{
			Network:      *network,
			Key:          key,
			ForgedHeight: 800000,
		})
	}
	resolver := funding.NewResolver(logger, tiers...)

	app := &agent{
		key:      key,
		network:  *network,
		cache:    cache,
		ledger:   ledgerStore,
		explorer: explorer,
		builder:  builder,
		resolver: resolver,
		verifier: payments.New(ledgerStore, logger),
		topic:    *topic,
		protocol: *protocolID,
		logger:   logger,
	}
	if *relayURL != "" {
		app.relay = relay.NewClient(&relay.Config{BaseURL: *relayURL}, key, logger)
	}
	if *overlayURL != "" {
		app.overlay = overlay.New(&overlay.Config{BaseURL: *overlayURL}, logger)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *listen:
		err = app.listen(ctx, *echoPrice)
	case *inbox:
		err = app.pollInbox(ctx, *echoPrice)
	case *pay != "":
		err = app.pay(ctx, *pay, *satoshis, *memo)
	case *request != "":
		err = app.request(ctx, *request, *service, *satoshis, json.RawMessage(*input))
	case *ping != "":
		err = app.ping(ctx, *ping)
	case *sweep != "":
		err = app.sweep(ctx, *sweep)
	case *frontier:
		err = app.showFrontier(ctx)
	case *balance:
		err = app.showBalance(ctx)
	default:
		flag.Usage()
		os.Exit(1)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatalf("Command failed: %v", err)
	}
}

// agent bundles the wired components behind the CLI modes
type agent struct {
	key      *ec.PrivateKey
	network  string
	cache    *chaincache.Cache
	ledger   ledger.Store
	explorer *indexer.Client
	builder  *txbuilder.Builder
	resolver *funding.Resolver
	verifier *payments.Verifier
	relay    *relay.Client
	overlay  *overlay.Client
	topic    string
	protocol string
	logger   *slog.Logger
}

func (a *agent) dispatcher(echoPrice uint64) *dispatch.Dispatcher {
	d := dispatch.New(&dispatch.Config{
		Identity:     a.relay.Identity(),
		RecipientPKH: a.builder.Address().PublicKeyHash,
		Verifier:     a.verifier,
		Sender:       a.relay,
		Resolver:     a.resolver,
		Builder:      a.builder,
		Broadcaster:  a.explorer,
	}, a.logger)
	d.Register(&echoService{price: echoPrice})
	return d
}

func (a *agent) listen(ctx context.Context, echoPrice uint64) error {
	if a.relay == nil {
		log.Fatal("-listen requires -relay-url")
	}
	log.Printf("Listening as %s...", a.relay.Identity())
	return a.relay.Listen(ctx, a.dispatcher(echoPrice).HandleMessage)
}

func (a *agent) pollInbox(ctx context.Context, echoPrice uint64) error {
	if a.relay == nil {
		log.Fatal("-inbox requires -relay-url")
	}
	messages, err := a.relay.Inbox(ctx, a.relay.Identity())
	if err != nil {
		return err
	}
	log.Printf("Inbox holds %d message(s)", len(messages))

	d := a.dispatcher(echoPrice)
	for _, msg := range messages {
		if err := d.HandleMessage(ctx, msg); err != nil {
			a.logger.Error("dispatch failed", "messageId", msg.ID, "error", err)
		}
	}
	return nil
}

// buildPayment resolves funding and builds one payment to lock
func (a *agent) buildPayment(ctx context.Context, lock *script.Script, satoshis uint64) (*txbuilder.Result, error) {
	in, err := a.resolver.Resolve(ctx, satoshis+a.builder.Policy().Fee(2))
	if err != nil {
		return nil, err
	}
	return a.builder.Build(ctx, in, []txbuilder.Output{{LockingScript: lock, Satoshis: satoshis}})
}

// publish broadcasts and overlay-submits a built payment, best effort:
// the bundle is self-certifying either way
func (a *agent) publish(ctx context.Context, res *txbuilder.Result) {
	if _, err := a.explorer.Broadcast(ctx, res.Tx.Hex()); err != nil {
		a.logger.Warn("broadcast failed", "txid", res.TxID, "error", err)
	}
	if a.overlay != nil {
		if _, err := a.overlay.Submit(ctx, res.Bundle, []string{a.topic}); err != nil {
			a.logger.Warn("overlay submit failed", "txid", res.TxID, "error", err)
		}
	}
}

func (a *agent) pay(ctx context.Context, address string, satoshis uint64, memo string) error {
	if satoshis == 0 {
		log.Fatal("-pay requires -satoshis")
	}
	addr, err := script.NewAddressFromString(address)
	if err != nil {
		return err
	}
	lock, err := p2pkh.Lock(addr)
	if err != nil {
		return err
	}

	outputs := []txbuilder.Output{{LockingScript: lock, Satoshis: satoshis}}
	if memo != "" {
		data, err := payload.Encode([]byte(a.protocol), []byte(memo))
		if err != nil {
			return err
		}
		outputs = append(outputs, txbuilder.Output{LockingScript: data})
	}

	in, err := a.resolver.Resolve(ctx, satoshis+a.builder.Policy().Fee(len(outputs)+1))
	if err != nil {
		return err
	}
	res, err := a.builder.Build(ctx, in, outputs)
	if err != nil {
		return err
	}
	a.publish(ctx, res)

	log.Printf("Paid %d sat to %s | txid %s | change %d", satoshis, address, res.TxID, res.ChangeSatoshis)
	return nil
}

func (a *agent) request(ctx context.Context, identity, service string, satoshis uint64, input json.RawMessage) error {
	if a.relay == nil {
		log.Fatal("-request requires -relay-url")
	}
	if satoshis == 0 {
		log.Fatal("-request requires -satoshis")
	}

	pub, err := ec.PublicKeyFromString(identity)
	if err != nil {
		return err
	}
	addr, err := script.NewAddressFromPublicKey(pub, a.network == funding.NetworkMain)
	if err != nil {
		return err
	}
	lock, err := p2pkh.Lock(addr)
	if err != nil {
		return err
	}

	res, err := a.buildPayment(ctx, lock, satoshis)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"service":  service,
		"input":    input,
		"satoshis": satoshis,
		"bundle":   base64.StdEncoding.EncodeToString(res.Bundle),
	})
	if err != nil {
		return err
	}

	msgID, err := a.relay.Send(ctx, identity, "service-request", payload)
	if err != nil {
		return err
	}
	log.Printf("Requested %q from %s | payment %s | message %s", service, identity, res.TxID, msgID)
	return nil
}

func (a *agent) ping(ctx context.Context, identity string) error {
	if a.relay == nil {
		log.Fatal("-ping requires -relay-url")
	}
	msgID, err := a.relay.Send(ctx, identity, "ping", json.RawMessage(`{}`))
	if err != nil {
		return err
	}
	log.Printf("Pinged %s | message %s", identity, msgID)
	return nil
}

func (a *agent) sweep(ctx context.Context, address string) error {
	addr, err := script.NewAddressFromString(address)
	if err != nil {
		return err
	}
	lock, err := p2pkh.Lock(addr)
	if err != nil {
		return err
	}

	in, err := (&funding.CacheTier{Cache: a.cache}).Resolve(ctx, 0)
	if err != nil {
		return err
	}
	if in == nil {
		log.Println("No cached frontier to sweep")
		return nil
	}

	res, err := a.builder.Sweep(ctx, in, lock)
	if err != nil {
		return err
	}
	a.publish(ctx, res)

	log.Printf("Swept %d sat to %s | txid %s", res.Tx.Outputs[0].Satoshis, address, res.TxID)
	return nil
}

func (a *agent) showFrontier(ctx context.Context) error {
	f := a.cache.Load(ctx)
	if f == nil {
		log.Println("No cached frontier")
		return nil
	}
	log.Printf("Frontier: %d sat at output %d | %d ancestor(s) | saved %s",
		f.Satoshis, f.Vout, len(f.Ancestors), f.SavedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func (a *agent) showBalance(ctx context.Context) error {
	utxos, err := a.explorer.Unspent(ctx, a.builder.Address().AddressString)
	if err != nil {
		return err
	}
	var total uint64
	for _, u := range utxos {
		total += u.Value
	}
	log.Printf("Address %s holds %d sat across %d output(s)",
		a.builder.Address().AddressString, total, len(utxos))
	return nil
}

// echoService is the built-in demonstration service: it returns its
// input verbatim
type echoService struct {
	price uint64
}

func (s *echoService) ID() string            { return "echo" }
func (s *echoService) PriceSatoshis() uint64 { return s.price }

func (s *echoService) Handle(ctx context.Context, input json.RawMessage) (*dispatch.ServiceResult, error) {
	return &dispatch.ServiceResult{Output: input}, nil
}
