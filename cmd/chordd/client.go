package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zde37/chordring/internal/chord"
	"github.com/zde37/chordring/internal/transport"
	"github.com/zde37/chordring/pkg"
	"github.com/zde37/chordring/pkg/hash"
)

// clientOptions address one running node of the ring.
type clientOptions struct {
	node      string
	authToken string
	timeout   time.Duration
}

func (o *clientOptions) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.node, "node", "127.0.0.1:8440", "Address (host:port) of any node in the ring")
	flags.StringVar(&o.authToken, "auth-token", "", "Shared secret of the ring")
	flags.DurationVar(&o.timeout, "timeout", 10*time.Second, "Overall timeout of the command")
}

// session is a short-lived client of the ring.
type session struct {
	client *transport.GRPCClient
	entry  string
	space  *hash.Space
}

func openSession(ctx context.Context, opts *clientOptions) (*session, error) {
	client := transport.NewGRPCClient(pkg.NewNopLogger(), opts.authToken, opts.timeout)

	// The entry node's parameters fix the identifier space for key hashing
	info, err := client.GetNodeInfo(ctx, opts.node)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach %s: %w", opts.node, err)
	}
	space, err := hash.NewSpace(info.M)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &session{client: client, entry: opts.node, space: space}, nil
}

func (s *session) Close() error {
	return s.client.Close()
}

// owner resolves the node responsible for key through the entry node.
func (s *session) owner(ctx context.Context, key string) (*chord.NodeAddress, int, error) {
	if key == "" {
		return nil, 0, chord.ErrEmptyKey
	}
	return s.client.FindSuccessor(ctx, s.entry, s.space.HashString(key), 0)
}

// withOwner runs fn against the owner of key, resolving the owner again
// once if it has moved in the meantime.
func (s *session) withOwner(ctx context.Context, key string, fn func(owner *chord.NodeAddress) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var owner *chord.NodeAddress
		owner, _, err = s.owner(ctx, key)
		if err != nil {
			return err
		}
		err = fn(owner)
		if !errors.Is(err, chord.ErrKeyNotOwned) {
			return err
		}
	}
	return err
}

// runSession opens a session, runs fn and closes the session.
func runSession(cmd *cobra.Command, opts *clientOptions, fn func(ctx context.Context, s *session, out io.Writer) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s, cmd.OutOrStdout())
}

func newClientCommands() []*cobra.Command {
	return []*cobra.Command{
		newLookupCommand(),
		newGetCommand(),
		newPutCommand(),
		newDeleteCommand(),
		newInfoCommand(),
	}
}

func newLookupCommand() *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "lookup KEY",
		Short: "Show the node responsible for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts, func(ctx context.Context, s *session, out io.Writer) error {
				owner, hops, err := s.owner(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s\n", labelColor.Sprint("key id"), s.space.HashString(args[0]).Text(16))
				fmt.Fprintf(out, "%s %s\n", labelColor.Sprint("owner "), nodeString(owner))
				fmt.Fprintf(out, "%s %d\n", labelColor.Sprint("hops  "), hops)
				return nil
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

func newGetCommand() *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Read a key from the ring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts, func(ctx context.Context, s *session, out io.Writer) error {
				var (
					value []byte
					found bool
				)
				err := s.withOwner(ctx, args[0], func(owner *chord.NodeAddress) (err error) {
					value, found, err = s.client.Get(ctx, owner.Address(), args[0])
					return err
				})
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%q: %w", args[0], pkg.ErrKeyNotFound)
				}
				fmt.Fprintln(out, string(value))
				return nil
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

func newPutCommand() *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "put KEY VALUE",
		Short: "Write a key to the ring",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts, func(ctx context.Context, s *session, out io.Writer) error {
				var stored *chord.NodeAddress
				err := s.withOwner(ctx, args[0], func(owner *chord.NodeAddress) error {
					stored = owner
					return s.client.Put(ctx, owner.Address(), args[0], []byte(args[1]))
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s on %s\n", color.GreenString("stored"), nodeString(stored))
				return nil
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

func newDeleteCommand() *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "delete KEY",
		Short: "Remove a key from the ring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts, func(ctx context.Context, s *session, out io.Writer) error {
				err := s.withOwner(ctx, args[0], func(owner *chord.NodeAddress) error {
					return s.client.Delete(ctx, owner.Address(), args[0])
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(out, color.GreenString("deleted"))
				return nil
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

func newInfoCommand() *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show a node's identity, parameters and key counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts, func(ctx context.Context, s *session, out io.Writer) error {
				info, err := s.client.GetNodeInfo(ctx, s.entry)
				if err != nil {
					return err
				}
				headerColor.Fprintf(out, "=======  Chord node %s\n", info.Node.ID.Text(16))
				fmt.Fprintf(out, "%s %s\n", labelColor.Sprintf("%-12s", "address"), info.Node.Address())
				fmt.Fprintf(out, "%s %s\n", labelColor.Sprintf("%-12s", "state"), stateString(info.State))
				fmt.Fprintf(out, "%s m=%d r=%d\n", labelColor.Sprintf("%-12s", "ring"), info.M, info.SuccessorListSize)
				fmt.Fprintf(out, "%s %d primary, %d replica\n", labelColor.Sprintf("%-12s", "keys"), info.KeyCount, info.ReplicaCount)

				successors, err := s.client.GetSuccessorList(ctx, s.entry)
				if err == nil {
					for i, succ := range successors {
						fmt.Fprintf(out, "%s %s\n", labelColor.Sprintf("%-12s", fmt.Sprintf("successor %d", i)), nodeString(succ))
					}
				}
				return nil
			})
		},
	}
	opts.bind(cmd)
	return cmd
}
