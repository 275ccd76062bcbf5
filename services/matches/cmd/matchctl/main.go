package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"poolmatch/pkg/archive"
	"poolmatch/pkg/bus"
	"poolmatch/pkg/config"
	"poolmatch/pkg/db"
	gos3 "poolmatch/pkg/s3"
	"poolmatch/pkg/telemetry"
	"poolmatch/services/matches"
	"poolmatch/services/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	output string
	cfg    config.Ctl
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "matchctl",
		Short:         "Operator tooling for poolmatch",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(opts.output); err != nil {
				return err
			}
			cfg, err := config.Load[config.Ctl](cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "Output format: json or yaml")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newCleanupCommand(opts))
	cmd.AddCommand(newEventsCommand(opts))
	cmd.AddCommand(newArchiveCommand(opts))
	return cmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.DBDSN == "" {
				return errors.New("DB_DSN is required")
			}
			if err := db.Migrate(cmd.Context(), opts.cfg.DBDSN); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, map[string]string{"status": "migrated"})
		},
	}
}

// cleaner runs cleanups either through the matches service or directly
// against the database.
type cleaner interface {
	CleanupUserPoolMatches(ctx context.Context, user, pool uuid.UUID) (matches.CleanupReport, error)
	CleanupPoolMatches(ctx context.Context, pool uuid.UUID) (matches.CleanupReport, error)
}

func newCleaner(ctx context.Context, opts *rootOptions, direct bool) (cleaner, func(), error) {
	if !direct {
		return relay.NewMatchesClient(opts.cfg.MatchesServiceURL, opts.cfg.UpstreamTimeout), func() {}, nil
	}
	if opts.cfg.DBDSN == "" {
		return nil, nil, errors.New("DB_DSN is required with --direct")
	}
	pool, err := db.Open(ctx, opts.cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	store, err := matches.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger := telemetry.NewLogger("matchctl", os.Stderr)
	engine, err := matches.NewEngine(store, matches.WithLogger(logger))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return engine, pool.Close, nil
}

func newCleanupCommand(opts *rootOptions) *cobra.Command {
	var (
		userID string
		poolID string
		direct bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete non-accepted matches for a departed user, or for a whole pool",
		Long: `Without --user, every waiting or rejected match in the pool is removed.
Accepted matches are always kept. Running the same cleanup twice is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := uuid.Parse(poolID)
			if err != nil {
				return fmt.Errorf("invalid --pool: %w", err)
			}
			var user uuid.UUID
			if userID != "" {
				if user, err = uuid.Parse(userID); err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
			}

			c, closeFn, err := newCleaner(cmd.Context(), opts, direct)
			if err != nil {
				return err
			}
			defer closeFn()

			var report matches.CleanupReport
			if user == uuid.Nil {
				report, err = c.CleanupPoolMatches(cmd.Context(), pool)
			} else {
				report, err = c.CleanupUserPoolMatches(cmd.Context(), user, pool)
			}
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, report)
		},
	}
	cmd.Flags().StringVar(&poolID, "pool", "", "Pool id")
	cmd.Flags().StringVar(&userID, "user", "", "Departed user id; omit to clean the whole pool")
	cmd.Flags().BoolVar(&direct, "direct", false, "Run against the database instead of the matches service")
	_ = cmd.MarkFlagRequired("pool")
	return cmd
}

func newEventsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Membership event operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newPublishRemovedCommand(opts))
	return cmd
}

func newPublishRemovedCommand(opts *rootOptions) *cobra.Command {
	var userID, poolID string
	cmd := &cobra.Command{
		Use:   "publish-removed",
		Short: "Publish a member-removed event, e.g. to retry a cleanup that was never scheduled",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := uuid.Parse(poolID)
			if err != nil {
				return fmt.Errorf("invalid --pool: %w", err)
			}
			user, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}

			b, err := bus.New(opts.cfg.NATSURL, nats.Name("matchctl"))
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer b.Close()
			if err := b.EnsureStream(opts.cfg.Stream, []string{opts.cfg.Subject}, opts.cfg.Dedupe); err != nil {
				return fmt.Errorf("ensure stream: %w", err)
			}

			pub, err := relay.NewPublisher(b, opts.cfg.Subject, telemetry.NewLogger("matchctl", os.Stderr))
			if err != nil {
				return err
			}
			if err := pub.PublishMemberRemoved(cmd.Context(), pool, user); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, map[string]string{
				"status":  "published",
				"subject": opts.cfg.Subject,
				"pool_id": pool.String(),
				"user_id": user.String(),
			})
		},
	}
	cmd.Flags().StringVar(&poolID, "pool", "", "Pool id")
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	_ = cmd.MarkFlagRequired("pool")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newArchiveCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived cleanup reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newArchiveGetCommand(opts))
	cmd.AddCommand(newArchiveManifestCommand(opts))
	cmd.AddCommand(newArchiveLinkCommand(opts))
	return cmd
}

func openArchive(ctx context.Context, cfg config.Ctl) (*archive.Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("ARCHIVE_BUCKET is required")
	}
	s3Client, err := gos3.NewClient(ctx, cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	var archiveOpts []archive.Option
	if cfg.SigningKey != "" || cfg.VerifyKey != "" {
		signer, err := archive.NewSigner(cfg.SigningKey, cfg.VerifyKey)
		if err != nil {
			return nil, err
		}
		archiveOpts = append(archiveOpts, archive.WithSigner(signer))
	}
	return archive.New(s3Client, cfg.Bucket, "", archiveOpts...)
}

func readIdentity(path string) (age.Identity, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	return ids[0], nil
}

func newArchiveGetCommand(opts *rootOptions) *cobra.Command {
	var identityFile string
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Download, verify and decode an archived cleanup report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openArchive(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			identity, err := readIdentity(identityFile)
			if err != nil {
				return err
			}
			var report matches.CleanupReport
			if err := a.Get(cmd.Context(), args[0], identity, &report); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, report)
		},
	}
	cmd.Flags().StringVar(&identityFile, "identity", "", "age identity file for encrypted archives")
	return cmd
}

func newArchiveManifestCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest KEY",
		Short: "Print the manifest stored next to an archived report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openArchive(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			m, err := a.Manifest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, m)
		},
	}
}

func newArchiveLinkCommand(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "link KEY",
		Short: "Print a presigned download URL for an archived report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.Bucket == "" {
				return errors.New("ARCHIVE_BUCKET is required")
			}
			s3Client, err := gos3.NewClient(cmd.Context(), opts.cfg.S3)
			if err != nil {
				return fmt.Errorf("init s3 client: %w", err)
			}
			url, err := s3Client.PresignGet(cmd.Context(), opts.cfg.Bucket, args[0], ttl)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, map[string]string{"key": args[0], "url": url})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "How long the link stays valid")
	return cmd
}
