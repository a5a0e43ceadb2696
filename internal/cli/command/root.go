package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/channelmesh/channelmesh-go/internal/cli/output"
	"github.com/channelmesh/channelmesh-go/internal/infra/buildinfo"
	"github.com/channelmesh/channelmesh-go/internal/telemetry/logger"
)

// App creates the CLI application.
func App() *cli.App {
	app := &cli.App{
		Name:    "channelmesh-probe",
		Usage:   "exercise the ChannelMesh pub/sub engine against an in-memory cluster",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			SubscribeCommand(),
			PublishCommand(),
			ChannelsCommand(),
			NumSubCommand(),
			NumPatCommand(),
		},
		Before: func(c *cli.Context) error {
			l, err := logger.New(logger.Config{
				Level:  c.String("log-level"),
				Format: c.String("log-format"),
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logger.SetDefault(l)

			rt, err := newRuntime(c)
			if err != nil {
				return fmt.Errorf("init runtime: %w", err)
			}
			c.App.Metadata["runtime"] = rt
			return nil
		},
		After: func(c *cli.Context) error {
			if rt, ok := c.App.Metadata["runtime"].(*Runtime); ok {
				return rt.Close()
			}
			return nil
		},
	}
	return app
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file (YAML)",
			EnvVars: []string{"CHANNELMESH_CONFIG"},
		},
		&cli.IntFlag{
			Name:    "nodes",
			Aliases: []string{"n"},
			Usage:   "Number of simulated cluster nodes",
			Value:   3,
		},
		&cli.BoolFlag{
			Name:  "sharded",
			Usage: "Enable shard pub/sub on the simulated cluster",
			Value: true,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json",
			Value:   "table",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level: debug, info, warn, error",
			EnvVars: []string{"CHANNELMESH_LOG_LEVEL"},
			Value:   "warn",
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format: json, text",
			EnvVars: []string{"CHANNELMESH_LOG_FORMAT"},
			Value:   "text",
		},
		&cli.StringSliceFlag{
			Name:  "seed",
			Usage: "Seed a foreign subscription: mode:target[@node-index], repeatable",
		},
	}
}

// formatter picks the output formatter from the global flag.
func formatter(c *cli.Context) output.Formatter {
	return output.NewFormatter(output.Format(c.String("output")))
}

// runtime retrieves the engine runtime from app metadata.
func runtime(c *cli.Context) (*Runtime, error) {
	if rt, ok := c.App.Metadata["runtime"].(*Runtime); ok {
		return rt, nil
	}
	return nil, fmt.Errorf("runtime not initialized")
}
