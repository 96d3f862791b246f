// Package cli implements the trackhub command line: it loads a
// configuration, wires the reference integrations and emits one call.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kart-io/trackhub/pkg/config"
	"github.com/kart-io/trackhub/pkg/integration"
	"github.com/kart-io/trackhub/pkg/integrations/console"
	"github.com/kart-io/trackhub/pkg/integrations/redisstream"
	"github.com/kart-io/trackhub/pkg/trackhub"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
	Wait       time.Duration

	// load overrides configuration loading in tests.
	load func(opts *RootOptions) (*config.Config, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the trackhub CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trackhub",
		Short: "TrackHub - semantic event pipeline",
		Long: `Emit identify, track, page, group and alias calls through the
TrackHub pipeline. Every envelope is written to stdout by the console
integration and, when cookie.addr is configured, appended to a Redis stream.
A summary of each call goes to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file (.yaml, .yml, .json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Wait, "wait", 5*time.Second, "how long to wait for integrations to become ready")

	cmd.AddCommand(NewIdentifyCommand(opts))
	cmd.AddCommand(NewGroupCommand(opts))
	cmd.AddCommand(NewTrackCommand(opts))
	cmd.AddCommand(NewPageCommand(opts))
	cmd.AddCommand(NewAliasCommand(opts))
	cmd.AddCommand(NewBootstrapCommand(opts))
	cmd.AddCommand(NewIntegrationsCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// session is one initialized Analytics plus the resources to release.
type session struct {
	analytics *trackhub.Analytics
	closers   []func() error
}

func (s *session) Close() error {
	var first error
	if err := s.analytics.Close(); err != nil {
		first = err
	}
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// open builds and initializes a session and waits for readiness.
func open(ctx context.Context, opts *RootOptions, out io.Writer) (*session, error) {
	load := opts.load
	if load == nil {
		load = loadConfig
	}
	cfg, err := load(opts)
	if err != nil {
		return nil, err
	}
	s, err := newSession(cfg, out)
	if err != nil {
		return nil, err
	}

	wait := opts.Wait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := s.analytics.WaitReady(waitCtx); err != nil {
		s.analytics.Logger().Warn("Integrations not ready, dispatching anyway", "error", err)
	}
	return s, nil
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	var cfgOpts []config.Option
	if opts.Verbose {
		cfgOpts = append(cfgOpts, config.WithLogLevel("debug"))
	}
	return config.Load(opts.ConfigPath, cfgOpts...)
}

func newSession(cfg *config.Config, out io.Writer) (*session, error) {
	a, err := trackhub.New(cfg)
	if err != nil {
		return nil, err
	}
	s := &session{analytics: a}

	if err := a.AddIntegration(console.Descriptor(out)); err != nil {
		s.Close()
		return nil, err
	}
	settings := settingsOf(cfg)
	ensure(settings, console.Name)

	if cfg.Cookie.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cookie.Addr,
			Password: cfg.Cookie.Password,
			DB:       cfg.Cookie.DB,
		})
		s.closers = append(s.closers, client.Close)
		if err := a.AddIntegration(redisstream.Descriptor(client, a.Logger())); err != nil {
			s.Close()
			return nil, err
		}
		ensure(settings, redisstream.Name)
	}

	if err := a.Initialize(context.Background(), settings); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func settingsOf(cfg *config.Config) map[string]integration.Settings {
	out := make(map[string]integration.Settings, len(cfg.Settings)+2)
	for name, s := range cfg.Settings {
		out[name] = s
	}
	return out
}

func ensure(settings map[string]integration.Settings, name string) {
	if _, ok := settings[name]; !ok {
		settings[name] = integration.Settings{}
	}
}
