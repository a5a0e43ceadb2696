package command

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/channelmesh/channelmesh-go/internal/client"
	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/internal/infra/shutdown"
)

// SubscribeCommand subscribes to targets and prints deliveries. Since
// the harness is in-memory, the command emits its own publishes so
// there is something to deliver.
func SubscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "subscribe to channels and print deliveries",
		ArgsUsage: "TARGET [TARGET...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Subscription mode: exact, pattern, sharded",
				Value: "exact",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Exit after this many deliveries, 0 to run until interrupted",
				Value: 3,
			},
			&cli.DurationFlag{
				Name:  "emit-every",
				Usage: "Interval between synthetic publishes",
				Value: 100 * time.Millisecond,
			},
		},
		Action: runSubscribe,
	}
}

func runSubscribe(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one target required")
	}
	rt, err := runtime(c)
	if err != nil {
		return err
	}
	mode, err := parseMode(c.String("mode"))
	if err != nil {
		return err
	}

	count := c.Int("count")
	deliveries := make(chan domain.PubSubMessage, 64)
	h := shutdown.NewHandler(5 * time.Second)
	for _, target := range c.Args().Slice() {
		err := rt.Client.Subscribe(c.Context, client.SubscriptionConfig{
			Mode:   mode,
			Target: target,
			Callback: func(msg domain.PubSubMessage, _ any) {
				select {
				case deliveries <- msg:
				default:
				}
			},
		})
		if err != nil {
			return err
		}
		h.OnShutdown(func(ctx context.Context) error {
			return rt.Client.Unsubscribe(ctx, mode, target)
		})
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listenAndEmit(c, rt, mode, count, deliveries, h)
	}()

	waitErr := h.Wait()
	if err := <-errCh; err != nil {
		return err
	}
	return waitErr
}

// listenAndEmit prints deliveries until count is reached, the context
// ends, or shutdown completes. Since the harness is in-memory it also
// generates the synthetic publishes being listened for.
func listenAndEmit(c *cli.Context, rt *Runtime, mode domain.ChannelMode, count int, deliveries <-chan domain.PubSubMessage, h *shutdown.Handler) error {
	// Patterns get a concrete publish channel derived from the glob's
	// literal prefix.
	channel := concreteChannel(mode, c.Args().First())
	ticker := time.NewTicker(c.Duration("emit-every"))
	defer ticker.Stop()

	received := 0
	for {
		select {
		case <-ticker.C:
			publish := rt.Client.Publish
			if mode == domain.ModeSharded {
				publish = rt.Client.SPublish
			}
			payload := fmt.Sprintf("probe-%d", received)
			if _, err := publish(c.Context, channel, []byte(payload)); err != nil {
				h.Trigger()
				return err
			}
		case msg := <-deliveries:
			received++
			if msg.Pattern != "" {
				fmt.Fprintf(c.App.Writer, "[%s] %s (pattern %s): %s\n", msg.Channel, kindOf(msg), msg.Pattern, msg.Payload)
			} else {
				fmt.Fprintf(c.App.Writer, "[%s] %s: %s\n", msg.Channel, kindOf(msg), msg.Payload)
			}
			if count > 0 && received >= count {
				h.Trigger()
				return nil
			}
		case <-h.Done():
			return nil
		case <-c.Context.Done():
			h.Trigger()
			return c.Context.Err()
		}
	}
}

func kindOf(msg domain.PubSubMessage) string {
	switch {
	case msg.Sharded:
		return "smessage"
	case msg.Pattern != "":
		return "pmessage"
	default:
		return "message"
	}
}

// concreteChannel derives a publishable channel from a subscription
// target: the literal prefix of a glob, the target itself otherwise.
func concreteChannel(mode domain.ChannelMode, target string) string {
	if mode != domain.ModePattern {
		return target
	}
	for i := 0; i < len(target); i++ {
		switch target[i] {
		case '*', '?', '[', '\\':
			return target[:i] + "probe"
		}
	}
	return target
}

// PublishCommand publishes one message and prints the receiver count.
func PublishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "publish a message and print the node-local receiver count",
		ArgsUsage: "CHANNEL PAYLOAD",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "spublish",
				Usage: "Publish to a shard channel",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("usage: publish CHANNEL PAYLOAD")
			}
			rt, err := runtime(c)
			if err != nil {
				return err
			}
			publish := rt.Client.Publish
			if c.Bool("spublish") {
				publish = rt.Client.SPublish
			}
			n, err := publish(c.Context, c.Args().Get(0), []byte(c.Args().Get(1)))
			if err != nil {
				return err
			}
			return formatter(c).Format(c.App.Writer, n)
		},
	}
}

// ChannelsCommand lists active channels.
func ChannelsCommand() *cli.Command {
	return &cli.Command{
		Name:      "channels",
		Usage:     "list active channels, optionally filtered by a glob pattern",
		ArgsUsage: "[PATTERN]",
		Action: func(c *cli.Context) error {
			rt, err := runtime(c)
			if err != nil {
				return err
			}
			channels, err := rt.Client.Channels(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return formatter(c).Format(c.App.Writer, channels)
		},
	}
}

// NumSubCommand reports subscriber counts per channel.
func NumSubCommand() *cli.Command {
	return &cli.Command{
		Name:      "numsub",
		Usage:     "report subscriber counts for the given channels",
		ArgsUsage: "CHANNEL [CHANNEL...]",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("at least one channel required")
			}
			rt, err := runtime(c)
			if err != nil {
				return err
			}
			counts, err := rt.Client.NumSub(c.Context, c.Args().Slice()...)
			if err != nil {
				return err
			}
			return formatter(c).Format(c.App.Writer, counts)
		},
	}
}

// NumPatCommand reports the cluster-wide pattern subscription count.
func NumPatCommand() *cli.Command {
	return &cli.Command{
		Name:  "numpat",
		Usage: "report the number of pattern subscriptions",
		Action: func(c *cli.Context) error {
			rt, err := runtime(c)
			if err != nil {
				return err
			}
			n, err := rt.Client.NumPat(c.Context)
			if err != nil {
				return err
			}
			return formatter(c).Format(c.App.Writer, n)
		},
	}
}

func parseMode(s string) (domain.ChannelMode, error) {
	switch s {
	case "exact":
		return domain.ModeExact, nil
	case "pattern":
		return domain.ModePattern, nil
	case "sharded":
		return domain.ModeSharded, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}
