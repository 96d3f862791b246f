package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kart-io/trackhub/pkg/errors"
	"github.com/kart-io/trackhub/pkg/trackhub"
)

// CallOptions holds the JSON payload flags shared by the call commands.
type CallOptions struct {
	*RootOptions
	Traits     string
	Properties string
	Options    string
}

func (o *CallOptions) traits() (map[string]any, error) { return parseObject("traits", o.Traits) }
func (o *CallOptions) properties() (map[string]any, error) {
	return parseObject("properties", o.Properties)
}
func (o *CallOptions) options() (map[string]any, error) { return parseObject("options", o.Options) }

func parseObject(flag, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, errors.Wrapf(err, errors.ErrInvalidArguments, "invalid --%s JSON", flag).
			WithContext("flag", flag)
	}
	return m, nil
}

// run opens a session, performs one call and prints its result.
func run(cmd *cobra.Command, opts *RootOptions, call func(*trackhub.Analytics) *trackhub.Result) error {
	s, err := open(cmd.Context(), opts, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.Close()

	return printResult(cmd.ErrOrStderr(), opts.Format, call(s.analytics))
}

// NewIdentifyCommand creates the identify command.
func NewIdentifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "identify [user-id]",
		Short: "Identify the user",
		Long: `Identify the user. Without a user id the current id is kept and the
traits are merged into the stored ones.

Example:
  trackhub identify 42 --traits '{"email":"ada@example.com"}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			call := trackhub.IdentifyCall{}
			if len(args) == 1 {
				call.UserID = args[0]
			}
			var err error
			if call.Traits, err = opts.traits(); err != nil {
				return err
			}
			if call.Options, err = opts.options(); err != nil {
				return err
			}
			return run(cmd, opts.RootOptions, func(a *trackhub.Analytics) *trackhub.Result {
				return a.Identify(cmd.Context(), call)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Traits, "traits", "", "user traits as JSON")
	cmd.Flags().StringVar(&opts.Options, "options", "", "call options as JSON")
	return cmd
}

// NewGroupCommand creates the group command.
func NewGroupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "group [group-id]",
		Short: "Associate the user with a group",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			call := trackhub.GroupCall{}
			if len(args) == 1 {
				call.GroupID = args[0]
			}
			var err error
			if call.Traits, err = opts.traits(); err != nil {
				return err
			}
			if call.Options, err = opts.options(); err != nil {
				return err
			}
			return run(cmd, opts.RootOptions, func(a *trackhub.Analytics) *trackhub.Result {
				return a.Group(cmd.Context(), call)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Traits, "traits", "", "group traits as JSON")
	cmd.Flags().StringVar(&opts.Options, "options", "", "call options as JSON")
	return cmd
}

// NewTrackCommand creates the track command.
func NewTrackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "track <event>",
		Short: "Track an event",
		Long: `Track an event. The tracking plan in the configuration decides which
integrations receive it.

Example:
  trackhub track "Signed Up" --properties '{"plan":"pro"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			call := trackhub.TrackCall{Event: args[0]}
			var err error
			if call.Properties, err = opts.properties(); err != nil {
				return err
			}
			if call.Options, err = opts.options(); err != nil {
				return err
			}
			return run(cmd, opts.RootOptions, func(a *trackhub.Analytics) *trackhub.Result {
				return a.Track(cmd.Context(), call)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Properties, "properties", "", "event properties as JSON")
	cmd.Flags().StringVar(&opts.Options, "options", "", "call options as JSON")
	return cmd
}

// NewPageCommand creates the page command.
func NewPageCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "page [category] [name]",
		Short: "Record a page view",
		Long: `Record a page view. A single argument is the page name, two are the
category and the name.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			call := trackhub.PageCall{}
			switch len(args) {
			case 1:
				call.Name = args[0]
			case 2:
				call.Category, call.Name = args[0], args[1]
			}
			var err error
			if call.Properties, err = opts.properties(); err != nil {
				return err
			}
			if call.Options, err = opts.options(); err != nil {
				return err
			}
			return run(cmd, opts.RootOptions, func(a *trackhub.Analytics) *trackhub.Result {
				return a.Page(cmd.Context(), call)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Properties, "properties", "", "page properties as JSON")
	cmd.Flags().StringVar(&opts.Options, "options", "", "call options as JSON")
	return cmd
}

// NewAliasCommand creates the alias command.
func NewAliasCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "alias <to> [from]",
		Short: "Link a previous identity to a new one",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			call := trackhub.AliasCall{To: args[0]}
			if len(args) == 2 {
				call.From = args[1]
			}
			var err error
			if call.Options, err = opts.options(); err != nil {
				return err
			}
			return run(cmd, opts.RootOptions, func(a *trackhub.Analytics) *trackhub.Result {
				return a.Alias(cmd.Context(), call)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Options, "options", "", "call options as JSON")
	return cmd
}
