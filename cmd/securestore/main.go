// securestore is a small example CLI over the library: put/get/rm/ls on a
// storage root, plus a watch mode that prints filesystem events.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"

	securestorage "github.com/kanakamedala-rajesh/SecureStorage"
	"github.com/kanakamedala-rajesh/SecureStorage/identity"
	"github.com/kanakamedala-rajesh/SecureStorage/logging"
	"github.com/kanakamedala-rajesh/SecureStorage/watcher"
)

func main() {
	app := &cli.Command{
		Name:  "securestore",
		Usage: "Encrypted blob storage bound to this device",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "storage root directory",
				Value:   "./securestore-data",
				Sources: cli.EnvVars("SECURESTORE_ROOT"),
			},
			&cli.StringFlag{
				Name:    "identity",
				Usage:   "device identity override (default: machine id)",
				Sources: cli.EnvVars("SECURESTORE_IDENTITY"),
			},
		},
		Commands: []*cli.Command{
			cmdPut(),
			cmdGet(),
			cmdRm(),
			cmdLs(),
			cmdWatch(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func openStorage(c *cli.Command, sink watcher.Sink) (*securestorage.SecureStorage, error) {
	logger, _ := logging.New(logging.FromEnv())

	var provider identity.Provider = identity.MachineID{}
	if ident := c.String("identity"); ident != "" {
		provider = identity.Static(ident)
	}

	return securestorage.New(securestorage.Options{
		Root:     c.String("root"),
		Identity: provider,
		Sink:     sink,
		Logger:   logger,
	})
}

func cmdPut() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Store a record (value from argument or stdin)",
		ArgsUsage: "<id> [value]",
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().Get(0)
			if id == "" {
				return fmt.Errorf("put: record id required")
			}

			var value []byte
			if c.Args().Len() > 1 {
				value = []byte(c.Args().Get(1))
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("put: read stdin: %w", err)
				}
				value = data
			}

			s, err := openStorage(c, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Store(id, value); err != nil {
				return err
			}
			fmt.Printf("stored %q (%d bytes)\n", id, len(value))
			return nil
		},
	}
}

func cmdGet() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Retrieve a record to stdout",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "hex", Usage: "hex-encode the output"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().Get(0)
			if id == "" {
				return fmt.Errorf("get: record id required")
			}

			s, err := openStorage(c, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			plain, err := s.Retrieve(id)
			if err != nil {
				return err
			}
			if c.Bool("hex") {
				fmt.Println(hex.EncodeToString(plain))
				return nil
			}
			_, err = os.Stdout.Write(plain)
			return err
		},
	}
}

func cmdRm() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete a record",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().Get(0)
			if id == "" {
				return fmt.Errorf("rm: record id required")
			}

			s, err := openStorage(c, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Delete(id); err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", id)
			return nil
		},
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229"))
	rowStyle    = lipgloss.NewStyle().PaddingLeft(2)
)

func cmdLs() *cli.Command {
	return &cli.Command{
		Name:  "ls",
		Usage: "List records in the storage root",
		Action: func(ctx context.Context, c *cli.Command) error {
			s, err := openStorage(c, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			ids, err := s.List()
			if err != nil {
				return err
			}
			fmt.Println(headerStyle.Render(fmt.Sprintf("%d record(s) in %s", len(ids), c.String("root"))))
			for _, id := range ids {
				fmt.Println(rowStyle.Render(id))
			}
			return nil
		},
	}
}

func cmdWatch() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print filesystem events on the storage root until interrupted",
		Action: func(ctx context.Context, c *cli.Command) error {
			events := make(chan watcher.Event, 64)
			s, err := openStorage(c, func(ev watcher.Event) {
				select {
				case events <- ev:
				default: // slow consumer; drop rather than stall the monitor
				}
			})
			if err != nil {
				return err
			}
			defer s.Close()

			if !s.WatcherActive() {
				return fmt.Errorf("watch: watcher unavailable on this system")
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			fmt.Println(headerStyle.Render("watching " + c.String("root")))
			for {
				select {
				case ev := <-events:
					fmt.Printf("%s %s/%s\n", ev.Mask, ev.Path, ev.Name)
				case <-sigs:
					return nil
				}
			}
		},
	}
}
