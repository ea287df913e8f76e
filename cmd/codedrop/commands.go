package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/codedrop"
	"github.com/hazyhaar/codedrop/block"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// result prints a write response and turns a failure into an error so the
// exit code reflects it.
func result(r *codedrop.SuccessResponse) error {
	if err := printJSON(r); err != nil {
		return err
	}
	if !r.Success {
		return fmt.Errorf("%s", r.Error)
	}
	return nil
}

func newPortCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Get or set the backend port of a session",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <session>",
		Short: "Print the backend port of a session (default if unset)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, st, err := opts.openService()
			if err != nil {
				return err
			}
			defer st.Close()
			resp, err := svc.GetPort(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <session> <port>",
		Short: "Store the backend port of a session (1025-65535)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := codedrop.ParsePort(args[1])
			if err != nil {
				return err
			}
			svc, st, err := opts.openService()
			if err != nil {
				return err
			}
			defer st.Close()
			return result(svc.StorePort(cmd.Context(), args[0], port))
		},
	})
	return cmd
}

func newActivationCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activation",
		Short: "Get or set the process-wide activation flag",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print whether automatic submission is active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, st, err := opts.openService()
			if err != nil {
				return err
			}
			defer st.Close()
			return printJSON(svc.GetActivationState(cmd.Context()))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <true|false>",
		Short: "Turn automatic submission on or off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := strconv.ParseBool(args[0])
			if err != nil {
				return fmt.Errorf("invalid activation %q: %w", args[0], err)
			}
			svc, st, err := opts.openService()
			if err != nil {
				return err
			}
			defer st.Close()
			return result(svc.StoreActivationState(cmd.Context(), active))
		},
	})
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var setStatus string

	cmd := &cobra.Command{
		Use:   "status <session> [fingerprint]",
		Short: "Show block statuses of a session",
		Long: `Show block statuses of a session.

Without a fingerprint, every recorded status is listed. With one, only its
status is printed; --set records a new status instead. --set absent
clears even a terminal status, so that content is submitted again.
Fingerprints are signed: put negative ones after "--".

Example:
  codedrop status tab-1
  codedrop status --set absent -- tab-1 -1480785612`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, st, err := opts.openService()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			if len(args) == 1 {
				if setStatus != "" {
					return fmt.Errorf("--set needs a fingerprint")
				}
				recs, err := svc.ListBlockStatuses(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(recs)
			}

			if setStatus != "" {
				s, err := block.ParseStatus(setStatus)
				if err != nil {
					return err
				}
				return result(svc.SetBlockStatus(ctx, args[0], args[1], s))
			}
			resp, err := svc.GetBlockStatus(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&setStatus, "set", "", "record this status (absent, pending, sent, error)")
	return cmd
}

func newPingCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping <port>",
		Short: "Check that a backend answers on a port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := codedrop.ParsePort(args[0])
			if err != nil {
				return err
			}
			svc, st, err := opts.openService()
			if err != nil {
				return err
			}
			defer st.Close()
			res := svc.TestConnection(cmd.Context(), port)
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("backend on port %d did not answer", port)
			}
			return nil
		},
	}
}

func newSubmitCommand(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "submit <session>",
		Short: "Post a code block to the backend of a session",
		Long: `Post a code block to the backend of a session.

The block is read from --file, or stdin. Block status is neither checked
nor recorded: this is the raw transport, useful to test a backend.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if file != "" {
				data, err = os.ReadFile(file)
			} else {
				data, err = readAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read code: %w", err)
			}

			svc, st, err := opts.openService()
			if err != nil {
				return err
			}
			defer st.Close()
			res := svc.SubmitCode(cmd.Context(), args[0], string(data))
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("submit failed: %s", res.Details.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the block from this file instead of stdin")
	return cmd
}

func newEndSessionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "end-session <session>",
		Short: "Delete the port and every block status of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, st, err := opts.openService()
			if err != nil {
				return err
			}
			defer st.Close()
			return result(svc.EndSession(cmd.Context(), args[0]))
		},
	}
}

func newSessionsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions with stored state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, st, err := opts.openService()
			if err != nil {
				return err
			}
			defer st.Close()
			ids, err := svc.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			if ids == nil {
				ids = []string{}
			}
			return printJSON(ids)
		},
	}
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 8<<20))
}
