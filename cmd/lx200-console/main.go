// lx200-console sends raw LX200 commands to a mount and prints the replies.
// It is meant for trying out firmware quirks before teaching a dialect
// about them.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/term"

	"lx200/pkg/detect"
	"lx200/pkg/dialect"
	"lx200/pkg/protocol"
	"lx200/pkg/trace"
	"lx200/pkg/transport"
)

const helpText = `Commands are sent as typed; a missing ':' or '#' is added.
Replies are read the way the dialect expects, or up to '#' for unknown
commands. Prefix a command to override:
  !cmd   send without waiting for a reply
  =cmd   read a single character
Other input:
  help   this text
  info   detected dialect and product
  quit   leave`

// console is one open connection and the dialect used to guess reply shapes.
type console struct {
	exec    *protocol.Executor
	result  detect.Result
	out     io.Writer
	timeout time.Duration
}

// normalize adds the LX200 framing to a typed command.
func normalize(cmd string) string {
	if !strings.HasPrefix(cmd, ":") {
		cmd = ":" + cmd
	}
	if !strings.HasSuffix(cmd, "#") {
		cmd += "#"
	}
	return cmd
}

// grammarFor picks the reply shape for a typed line and returns the command
// to send.
func (c *console) grammarFor(line string) (string, protocol.Grammar) {
	switch {
	case strings.HasPrefix(line, "!"):
		return normalize(line[1:]), protocol.NoReply
	case strings.HasPrefix(line, "="):
		return normalize(line[1:]), protocol.Ack
	}

	cmd := normalize(line)
	if desc := c.result.Dialect.Descriptor(); desc != nil {
		for _, known := range desc.Commands {
			if known.Template == cmd {
				return cmd, known.Reply
			}
		}
	}
	return cmd, protocol.Terminated
}

// handle runs one input line. It returns false when the console should
// exit.
func (c *console) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return true
	case "help", "?":
		fmt.Fprintln(c.out, helpText)
		return true
	case "info":
		fmt.Fprintf(c.out, "dialect %s, product %q\n", c.result.Dialect, c.result.Product)
		return true
	case "quit", "exit":
		return false
	}

	cmd, g := c.grammarFor(line)
	ctx, cancel := context.WithTimeout(ctx, c.timeout+time.Second)
	defer cancel()

	start := time.Now()
	resp, err := c.exec.Execute(ctx, cmd, g)
	elapsed := time.Since(start).Round(time.Millisecond)
	switch {
	case err != nil:
		fmt.Fprintf(c.out, "%s -> error: %v (%s)\n", cmd, err, elapsed)
	case g.Kind == protocol.ReplyNone:
		fmt.Fprintf(c.out, "%s -> sent\n", cmd)
	default:
		fmt.Fprintf(c.out, "%s -> %q (%s)\n", cmd, resp.Raw, elapsed)
	}
	return !protocol.IsFatal(err)
}

// interactive reads lines with editing and history.
func (c *console) interactive(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lx200> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	c.out = rl.Stdout()
	log.SetOutput(rl.Stderr())

	fmt.Fprintln(c.out, helpText)
	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}
		if !c.handle(ctx, line) {
			return nil
		}
	}
	return nil
}

// batch runs commands piped on r, one per line.
func (c *console) batch(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() && ctx.Err() == nil {
		if !c.handle(ctx, scanner.Text()) {
			return nil
		}
	}
	return scanner.Err()
}

func run(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	ep, err := transport.ParseEndpoint(c.String("endpoint"), 0)
	if err != nil {
		return err
	}
	configured, err := dialect.Parse(c.String("dialect"))
	if err != nil {
		return err
	}
	timeout := c.Duration("timeout")

	bauds := []int{0}
	if ep.Serial {
		bauds = configured.Descriptor().BaudRates()
		if b := c.Int("baud"); b != 0 {
			bauds = []int{b}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.WithField("endpoint", ep.String())
	res, exec, err := detect.ResolveWithFallback(ctx,
		func(baud int) protocol.Dialer { return ep.Dialer(baud, timeout) },
		bauds, configured, detect.Options{Timeout: timeout, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", ep, err)
	}
	defer exec.Connection().Release()

	if path := c.String("trace"); path != "" {
		tracer, err := trace.NewFileTracer(path, res.Dialect.String())
		if err != nil {
			return err
		}
		defer tracer.Close()
		exec.SetObserver(tracer)
	}

	con := &console{exec: exec, result: res, out: os.Stdout, timeout: timeout}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return con.interactive(ctx)
	}
	return con.batch(ctx, os.Stdin)
}

func main() {
	app := cli.App{
		Name:  "lx200-console",
		Usage: "Send raw LX200 commands to a telescope mount",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:     "endpoint",
				Aliases:  []string{"e"},
				Usage:    "Serial device or host[:port]",
				Required: true,
				EnvVars:  []string{"LX200_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:    "dialect",
				Usage:   "Dialect to assume, or auto to detect it",
				Value:   "auto",
				EnvVars: []string{"LX200_DIALECT"},
			},
			&cli.IntFlag{
				Name:    "baud",
				Aliases: []string{"b"},
				Usage:   "Serial baud rate; zero tries the dialect's rates",
				EnvVars: []string{"LX200_BAUD"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Reply timeout",
				Value: 3 * time.Second,
			},
			&cli.StringFlag{
				Name:  "trace",
				Usage: "Record every exchange to this file",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
