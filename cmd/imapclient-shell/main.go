// Command imapclient-shell is a thin demo harness over the library:
// one subcommand per consumer-API operation, so the whole
// connect/select/search/fetch/idle surface can be exercised from a
// terminal without writing Go.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	imapclient "github.com/mailkit/imapclient"
	"github.com/mailkit/imapclient/config"
	"github.com/mailkit/imapclient/criteria"
	"github.com/mailkit/imapclient/internal/logger"
	"github.com/mailkit/imapclient/mailbox"
	"github.com/mailkit/imapclient/msgset"
)

func main() {
	app := &cli.App{
		Name:  "imapclient-shell",
		Usage: "exercise the IMAP client library from a terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", EnvVars: []string{"IMAP_HOST"}, Required: true},
			&cli.IntFlag{Name: "port", EnvVars: []string{"IMAP_PORT"}, Value: 993},
			&cli.StringFlag{Name: "user", EnvVars: []string{"IMAP_USER"}, Required: true},
			&cli.StringFlag{Name: "password", EnvVars: []string{"IMAP_PASSWORD"}, Required: true},
			&cli.BoolFlag{Name: "no-tls", Value: false},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
		},
		Commands: []*cli.Command{
			foldersCommand(),
			searchCommand(),
			fetchCommand(),
			idleCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "imapclient-shell:", err)
		os.Exit(1)
	}
}

func cfgFromFlags(c *cli.Context) config.ConnectionConfig {
	return config.Defaults(config.ConnectionConfig{
		Host:     c.String("host"),
		Port:     c.Int("port"),
		Username: c.String("user"),
		Password: c.String("password"),
		UseTLS:   !c.Bool("no-tls"),
	})
}

func loggerFromFlags(c *cli.Context) logger.Logger {
	if c.Bool("verbose") {
		return logger.NewDevelopment()
	}
	return logger.Nop()
}

func connect(c *cli.Context) (*imapclient.Client, error) {
	return imapclient.Connect(c.Context, cfgFromFlags(c), imapclient.WithLogger(loggerFromFlags(c)))
}

func foldersCommand() *cli.Command {
	return &cli.Command{
		Name:  "folders",
		Usage: "list mailboxes (LIST \"\" pattern)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pattern", Value: "*"},
		},
		Action: func(c *cli.Context) error {
			client, err := connect(c)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close(c.Context) }()

			infos, err := client.Folders().List(c.Context, c.String("pattern"))
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Printf("%s\t%s\t%s\n", info.Name, info.Delimiter, strings.Join(info.Attributes, ","))
			}
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "UID SEARCH a mailbox for unseen messages",
		ArgsUsage: "<mailbox>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one argument: <mailbox>", 1)
			}
			client, err := connect(c)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close(c.Context) }()

			mb, err := client.Select(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			set, err := mb.Search(c.Context, criteria.Unseen())
			if err != nil {
				return err
			}
			fmt.Println(set.String())
			return nil
		},
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "UID FETCH a set of UIDs for FLAGS and ENVELOPE",
		ArgsUsage: "<mailbox> <uid-set>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("expected two arguments: <mailbox> <uid-set>", 1)
			}
			client, err := connect(c)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close(c.Context) }()

			mb, err := client.Select(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}
			set, err := msgset.Parse(true, c.Args().Get(1))
			if err != nil {
				return err
			}
			results, err := mb.Fetch(c.Context, set, []mailbox.FetchItem{"FLAGS", "ENVELOPE", "RFC822.SIZE"})
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("UID %d: %d items\n", r.UID, len(r.Items))
			}
			return nil
		},
	}
}

func idleCommand() *cli.Command {
	return &cli.Command{
		Name:      "idle",
		Usage:     "IDLE a mailbox and print change events until interrupted",
		ArgsUsage: "<mailbox>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one argument: <mailbox>", 1)
			}
			client, err := connect(c)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close(c.Context) }()

			mb, err := client.Select(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			set, err := mb.Search(c.Context, criteria.All())
			if err != nil {
				return err
			}

			monitor := client.Idle(mb, set.UIDs())
			go monitor.Run(c.Context)

			fmt.Fprintln(os.Stderr, "idling, press Ctrl+C to stop")
			r := bufio.NewReader(os.Stdin)
			go func() { _, _ = r.ReadString('\n') }()

			for ev := range monitor.Events() {
				fmt.Printf("kind=%s uid=%d flags=%v run=%s\n", ev.Kind, ev.UID, ev.Flags, ev.RunID)
			}
			return nil
		},
	}
}
