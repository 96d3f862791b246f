package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewBootstrapCommand creates the bootstrap command.
func NewBootstrapCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap <query>",
		Short: "Apply a bootstrap query string",
		Long: `Apply a bootstrap query string: ajs_uid identifies the user (with
ajs_trait_* traits), ajs_event tracks an event (with ajs_prop_* properties)
and ajs_aid sets the anonymous id.

Example:
  trackhub bootstrap '?ajs_uid=42&ajs_trait_plan=pro&ajs_event=Landed'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.Close()

			s.analytics.ParseQuery(cmd.Context(), args[0])
			fmt.Fprintf(cmd.ErrOrStderr(), "anonymous id: %s\n", s.analytics.AnonymousID())
			return nil
		},
	}
}
