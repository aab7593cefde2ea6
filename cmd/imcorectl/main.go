package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/imcore/internal/client"
	"github.com/matheus3301/imcore/internal/lock"
	"github.com/matheus3301/imcore/internal/session"
)

var (
	flagSession string
	flagJSON    bool
	flagTimeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "imcorectl",
		Short:         "Inspect and feed a running imcore daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagSession, "session", "", "session name (overrides $IMCORE_SESSION)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "request timeout")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(chatsCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(handleCmd())
	rootCmd.AddCommand(participantsCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(sessionsCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func resolveSession() (string, error) {
	name := session.Resolve(flagSession)
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func connect() (*client.Client, string, error) {
	name, err := resolveSession()
	if err != nil {
		return nil, "", err
	}
	c, err := client.New(session.SocketPath(name))
	if err != nil {
		return nil, "", fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	return c, name, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, name, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
			defer cancel()
			resp, err := c.Bridge.GetStatus(ctx, &emptypb.Empty{})
			if grpcstatus.Code(err) == codes.Unavailable {
				return offlineStatus(name)
			}
			if err != nil {
				return err
			}
			if flagJSON {
				return outputJSON(resp)
			}
			m := resp.AsMap()
			fmt.Printf("Session:  %v\n", m["session"])
			fmt.Printf("Status:   %v (since %v)\n", m["status"], m["status_since"])
			fmt.Printf("Uptime:   %vms\n", m["uptime_ms"])
			fmt.Printf("Chats:    %v live, %v stored\n", m["chats"], m["stored_chats"])
			fmt.Printf("Messages: %v stored\n", m["stored_messages"])
			fmt.Printf("Pending:  %v events\n", m["events_pending"])
			return nil
		},
	}
}

// offlineStatus reports the lock holder when the socket does not answer.
func offlineStatus(name string) error {
	h, held, err := lock.Inspect(session.Dir(name))
	if err != nil {
		return err
	}
	if !held {
		fmt.Printf("Session %q: daemon not running\n", name)
		return nil
	}
	fmt.Printf("Session %q: daemon pid %d holds the lock since %s but is not answering\n",
		name, h.PID, h.Since.Format(time.RFC3339))
	return nil
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List known sessions and whether their daemon runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := session.List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}
			for _, name := range names {
				running := "stopped"
				if h, held, err := lock.Inspect(session.Dir(name)); err == nil && held {
					running = fmt.Sprintf("running, pid %d", h.PID)
				}
				fmt.Printf("%-20s %s (%s)\n", name, session.Dir(name), running)
			}
			return nil
		},
	}
}

func chatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List chats known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				resp, err := c.Bridge.ListChats(ctx, &emptypb.Empty{})
				if err != nil {
					return err
				}
				return printChats(resp)
			})
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <identifier>",
		Short: "Show a chat and its messages (identifier is scheme:value or a chat identifier)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				req, err := structpb.NewStruct(map[string]any{"identifier": args[0]})
				if err != nil {
					return err
				}
				resp, err := c.Bridge.GetChat(ctx, req)
				if err != nil {
					return err
				}
				if flagJSON {
					return outputJSON(resp)
				}
				m := resp.AsMap()
				printChatLine(m)
				msgs, _ := m["messages"].([]any)
				for _, raw := range msgs {
					msg, _ := raw.(map[string]any)
					fmt.Printf("  %-36v %-8v %-20v %v\n", msg["id"], msg["service"], msg["sender"], msg["time"])
				}
				return nil
			})
		},
	}
}

func handleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handle <handle>",
		Short: "List chats a handle participates in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				req, err := structpb.NewStruct(map[string]any{"handle": args[0]})
				if err != nil {
					return err
				}
				resp, err := c.Bridge.ChatsForHandle(ctx, req)
				if err != nil {
					return err
				}
				return printChats(resp)
			})
		},
	}
}

func participantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "participants <chat identifier>",
		Short: "List chat participants, most recently active first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				req, err := structpb.NewStruct(map[string]any{"chat": args[0]})
				if err != nil {
					return err
				}
				resp, err := c.Bridge.SortedParticipants(ctx, req)
				if err != nil {
					return err
				}
				if flagJSON {
					return outputJSON(resp)
				}
				list, _ := resp.AsMap()["participants"].([]any)
				for _, p := range list {
					fmt.Println(p)
				}
				return nil
			})
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [kind prefix...]",
		Short: "Stream daemon events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			kinds := make([]any, len(args))
			for i, k := range args {
				kinds[i] = k
			}
			req, err := structpb.NewStruct(map[string]any{"kinds": kinds})
			if err != nil {
				return err
			}
			stream, err := c.Bridge.WatchEvents(ctx, req)
			if err != nil {
				return err
			}
			for {
				evt, err := stream.Recv()
				if errors.Is(err, io.EOF) || grpcstatus.Code(err) == codes.Canceled {
					return nil
				}
				if err != nil {
					return err
				}
				if flagJSON {
					if err := outputJSON(evt); err != nil {
						return err
					}
					continue
				}
				m := evt.AsMap()
				payload, _ := json.Marshal(m["payload"])
				fmt.Printf("%v %-40v %s\n", m["ts"], m["kind"], payload)
			}
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <kind> [file]",
		Short: "Feed one host callback, read as a JSON object from file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := io.Reader(os.Stdin)
			if len(args) == 2 && args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			var payload map[string]any
			if err := json.NewDecoder(in).Decode(&payload); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			req, err := structpb.NewStruct(map[string]any{"kind": args[0], "payload": payload})
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				_, err := c.Bridge.Ingest(ctx, req)
				return err
			})
		},
	}
}

func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	c, _, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()
	return fn(ctx, c)
}

func printChats(resp *structpb.Struct) error {
	if flagJSON {
		return outputJSON(resp)
	}
	chats, _ := resp.AsMap()["chats"].([]any)
	if len(chats) == 0 {
		fmt.Println("No chats found.")
		return nil
	}
	for _, raw := range chats {
		m, _ := raw.(map[string]any)
		printChatLine(m)
	}
	return nil
}

func printChatLine(m map[string]any) {
	var ids []string
	list, _ := m["identifiers"].([]any)
	for _, id := range list {
		ids = append(ids, fmt.Sprint(id))
	}
	sort.Strings(ids)
	fmt.Printf("%-16v %-30v %s\n", m["style"], m["merged_id"], strings.Join(ids, " "))
}

func outputJSON(m *structpb.Struct) error {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	_, err = fmt.Fprintln(os.Stdout, string(b))
	return err
}
