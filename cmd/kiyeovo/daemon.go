package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiyeovo/kiyeovo/config"
	"github.com/kiyeovo/kiyeovo/dht"
	"github.com/kiyeovo/kiyeovo/group"
	"github.com/kiyeovo/kiyeovo/groupinfo"
	"github.com/kiyeovo/kiyeovo/groupoffline"
	"github.com/kiyeovo/kiyeovo/health"
	"github.com/kiyeovo/kiyeovo/internal/logger"
	"github.com/kiyeovo/kiyeovo/internal/metrics"
	"github.com/kiyeovo/kiyeovo/offline"
	"github.com/kiyeovo/kiyeovo/p2p"
	"github.com/kiyeovo/kiyeovo/pkg/storage"
	"github.com/kiyeovo/kiyeovo/pkg/storage/memory"
	"github.com/kiyeovo/kiyeovo/pkg/storage/postgres"
	"github.com/kiyeovo/kiyeovo/scheduler"
	"github.com/kiyeovo/kiyeovo/session"
	"github.com/kiyeovo/kiyeovo/transport"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/spf13/cobra"
)

var (
	daemonPeerID    string
	daemonConfigDir string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon <peer-id>",
	Short: "Unlock an identity and run the peer-to-peer messaging daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringVar(&daemonConfigDir, "config-dir", "config", "configuration directory")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	daemonPeerID = args[0]
	log := logger.GetDefaultLogger()

	cfg, err := config.Load(config.LoaderOptions{ConfigDir: daemonConfigDir})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	v, err := openVault()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	unlockCtx, cancel := context.WithTimeout(ctx, cfg.Identity.CryptoTimeout)
	id, err := v.Load(unlockCtx, daemonPeerID, password)
	cancel()
	if err != nil {
		return fmt.Errorf("unlock vault: %w", err)
	}

	signingPriv := id.SigningKey.PrivateKey().(ed25519.PrivateKey)
	offlinePriv := id.OfflineKey.PrivateKey().(*rsa.PrivateKey)
	identityPriv := id.IdentityKey.PrivateKey().(ed25519.PrivateKey)

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	libp2pKey, err := crypto.UnmarshalEd25519PrivateKey(identityPriv)
	if err != nil {
		return fmt.Errorf("convert identity key: %w", err)
	}
	host, err := p2p.New(ctx, p2p.Config{
		PrivKey:        libp2pKey,
		ListenAddrs:    cfg.Transport.ListenAddrs,
		BootstrapPeers: cfg.Transport.BootstrapPeers,
		Server:         true,
	})
	if err != nil {
		return fmt.Errorf("start p2p host: %w", err)
	}
	defer host.Close()

	sessions := session.NewManager()
	policy := transport.NewMemoryContactPolicy()
	directTransport := transport.NewManager(host, sessions, policy, transport.ManagerConfig{
		SelfPeerID:           id.PeerID,
		SigningKey:           id.SigningKey,
		MaxKeyExchangeAge:    cfg.Session.MaxKeyExchangeAge,
		KeyExchangeRateLimit: cfg.Session.KeyExchangeRateLimit,
		MessageTimeout:       cfg.Transport.MessageTimeout,
		RotationThreshold:    cfg.Transport.RotationThreshold,
	})
	directTransport.OnMessage(func(msg transport.MessageReceived) {
		log.Info("direct message received", logger.String("from", msg.PeerID))
	})

	directory := newStorageDirectory(store.ContactStore())
	offlineEngine := offline.NewEngine(id.PeerID, signingPriv, &offlinePriv.PublicKey, offlinePriv, host, offline.NewMemoryMirror())
	controller := group.NewController(id.PeerID, signingPriv, offlinePriv, directory, offlineEngine, store.GroupStateStore())
	groupOfflineEngine := groupoffline.NewEngine(id.PeerID, signingPriv, host, groupoffline.NewMemoryMirror(), store.GroupStateStore(), groupoffline.Config{
		MaxMessagesPerSender: cfg.Group.MaxMessagesPerSender,
		MessageTTL:           cfg.Group.OfflineMessageTTL,
		RotationGraceWindow:  cfg.Group.RotationGraceWindow,
	})
	publisher := groupinfo.NewPublisher(signingPriv, host)
	fetcher := groupinfo.NewFetcher(host)
	republishGroupInfo := func(ctx context.Context, groupID string) error {
		chat, ok := controller.Chat(groupID)
		if !ok || chat.CreatorID != id.PeerID {
			return nil
		}
		memberPubKeys := make(map[string]string, len(chat.Roster))
		for _, member := range chat.Roster {
			if pub, ok := directory.SigningKeyFor(member); ok {
				memberPubKeys[member] = base64.RawURLEncoding.EncodeToString(pub)
			}
		}
		prev, err := fetcher.FetchLatest(ctx, groupID, id.SigningKey.PublicKey().(ed25519.PublicKey))
		if err != nil {
			prev = nil
		}
		var prevVersioned *groupinfo.VersionedRecord
		if prev != nil {
			prevVersioned, _ = fetcher.FetchVersion(ctx, groupID, id.SigningKey.PublicKey().(ed25519.PublicKey), prev.LatestVersion)
		}
		_, err = publisher.PublishVersion(ctx, groupID, chat.Roster, memberPubKeys, nil, prevVersioned)
		return err
	}

	sched := scheduler.New()
	sched.Start(ctx,
		scheduler.Task{
			Name:     "group-republish-pending",
			Interval: cfg.Group.InviteLifetime / 10,
			Run: func(ctx context.Context) error {
				return republishAllGroups(ctx, controller)
			},
		},
		scheduler.Task{
			Name:     "group-offline-poll",
			Interval: cfg.Offline.MessageTTL / 100,
			Run: func(ctx context.Context) error {
				return pollAllGroupOffline(ctx, controller, groupOfflineEngine, fetcher, store.GroupStateStore(), directory)
			},
		},
		scheduler.Task{
			Name:     "group-info-republish",
			Interval: cfg.Group.InviteLifetime / 10,
			Run: func(ctx context.Context) error {
				for _, groupID := range controller.GroupIDs() {
					if err := republishGroupInfo(ctx, groupID); err != nil {
						return fmt.Errorf("republish group info %s: %w", groupID, err)
					}
				}
				return nil
			},
		},
		scheduler.Task{
			Name:     "direct-offline-poll",
			Interval: cfg.Offline.MessageTTL / 100,
			Run: func(ctx context.Context) error {
				peers, err := store.ContactStore().List(ctx)
				if err != nil {
					return err
				}
				var targets []offline.Peer
				for _, c := range peers {
					if p, ok := directory.OfflineEnvelope(c.PeerID); ok {
						targets = append(targets, p)
					}
				}
				return offlineEngine.PollPeers(ctx, targets, cfg.Offline.ChatsToCheck)
			},
		},
		scheduler.Task{
			Name:     "notify-key-rotation",
			Interval: cfg.Identity.NotifyKeyRotationInterval,
			Run: func(ctx context.Context) error {
				return v.RotateNotifyKey(id, password)
			},
		},
	)
	defer sched.Stop()

	startAmbientServers(ctx, cfg, store, host)

	log.Info("daemon started", logger.String("peer_id", id.PeerID))
	<-ctx.Done()
	log.Info("daemon shutting down")
	return nil
}

func republishAllGroups(ctx context.Context, controller *group.Controller) error {
	for _, groupID := range controller.GroupIDs() {
		if err := controller.RepublishPending(ctx, groupID); err != nil {
			return fmt.Errorf("republish group %s: %w", groupID, err)
		}
	}
	return nil
}

// pollAllGroupOffline assembles a groupoffline.GroupContext per
// tracked group from the controller's chat roster, the directory's
// signing keys, the durable epoch-key store, and the latest C7
// versioned record's sender boundaries, then runs one Poll per group.
func pollAllGroupOffline(ctx context.Context, controller *group.Controller, engine *groupoffline.Engine, fetcher *groupinfo.Fetcher, state storage.GroupStateStore, directory *storageDirectory) error {
	for _, groupID := range controller.GroupIDs() {
		chat, ok := controller.Chat(groupID)
		if !ok {
			continue
		}

		g := groupoffline.GroupContext{
			GroupID:              groupID,
			Roster:               chat.Roster,
			MemberSigningPubKeys: make(map[string]ed25519.PublicKey),
		}
		for _, member := range chat.Roster {
			if pub, ok := directory.SigningKeyFor(member); ok {
				g.MemberSigningPubKeys[member] = pub
			}
		}

		epochKey, err := state.GetGroupKeyForEpoch(ctx, groupID, chat.KeyVersion)
		if err != nil || epochKey == nil {
			continue
		}

		boundaries := map[string]int64{}
		if creatorPub, ok := directory.SigningKeyFor(chat.CreatorID); ok {
			if record, err := fetcher.FetchVersion(ctx, groupID, creatorPub, chat.KeyVersion); err == nil && record != nil {
				boundaries = record.SenderSeqBoundaries
			}
		}

		g.Epochs = []groupoffline.Epoch{{
			KeyVersion: chat.KeyVersion,
			Key:        epochKey.Key,
			Boundaries: boundaries,
		}}

		if err := engine.Poll(ctx, g); err != nil {
			return fmt.Errorf("poll group %s: %w", groupID, err)
		}
	}
	return nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Type == "postgres" {
		pgCfg, err := parsePostgresDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(ctx, pgCfg)
	}
	return memory.NewStore(), nil
}

func parsePostgresDSN(dsn string) (*postgres.Config, error) {
	// The config loader carries the DSN as a single connection string;
	// Config.Host/Port/... are only used when StorageConfig.DSN is a
	// host, since pkg/storage/postgres builds its own connection string
	// rather than accepting one directly.
	return &postgres.Config{
		Host:    dsn,
		Port:    5432,
		SSLMode: "disable",
	}, nil
}

func startAmbientServers(ctx context.Context, cfg *config.Config, store storage.Store, host *p2p.Host) {
	checker := health.NewHealthChecker(5 * time.Second)
	checker.RegisterCheck("database", health.DatabaseHealthCheck(store.Ping))
	checker.RegisterCheck("dht", health.DHTHealthCheck(func(ctx context.Context) error {
		if _, ok := dht.NamespaceFor(offline.BucketKeyPrefix); !ok {
			return fmt.Errorf("dht namespace table unavailable")
		}
		return nil
	}))

	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(checker.CheckAll(r.Context()))
		})
		srv := &http.Server{Addr: cfg.Health.Addr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		go srv.ListenAndServe()
	}

	if cfg.Metrics.Enabled {
		go metrics.StartServer(cfg.Metrics.Addr)
	}
}
