package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/vyvo/bundlecast/pkg/adminclient"
	"github.com/vyvo/bundlecast/pkg/ledger"
)

const usage = `usage: bundlectl [--addr URL] [--token TOKEN] <command> [args]

commands:
  health                 show the role of the target process
  events [--limit N]     list recorded events, newest first
  stream                 follow events live
  distribute [--node ID] publish the coordinator's bundle now
  nodes                  list announced workers
  containers             list a worker's containers
  stop ID                stop a container
  rm ID                  remove a container
  logs ID [--tail N]     print a container's recent output
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "bundlectl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("bundlectl", pflag.ContinueOnError)
	fs.SetInterspersed(true)
	addr := fs.String("addr", envOr("BUNDLECTL_ADDR", "http://localhost:8090"), "admin API base URL")
	token := fs.String("token", os.Getenv("BUNDLECTL_TOKEN"), "admin API bearer token")
	limit := fs.Int("limit", 50, "number of events to list")
	node := fs.String("node", "admin", "node id to distribute for")
	tail := fs.Int("tail", 100, "number of log lines")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}
	client := adminclient.NewClient(*addr, *token)

	switch cmd := rest[0]; cmd {
	case "health":
		role, err := client.Health(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "ok (%s)\n", role)
		return nil
	case "events":
		events, err := client.Events(ctx, *limit)
		if err != nil {
			return err
		}
		return printJSON(out, events)
	case "stream":
		return client.StreamEvents(ctx, func(e ledger.Event) error {
			return printJSON(out, e)
		})
	case "distribute":
		if err := client.Distribute(ctx, *node); err != nil {
			return err
		}
		fmt.Fprintf(out, "bundle published for %s\n", *node)
		return nil
	case "nodes":
		nodes, err := client.Nodes(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, nodes)
	case "containers":
		containers, err := client.Containers(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, containers)
	case "stop", "rm", "logs":
		if len(rest) != 2 {
			return fmt.Errorf("%s needs a container id", cmd)
		}
		id := rest[1]
		switch cmd {
		case "stop":
			return client.StopContainer(ctx, id)
		case "rm":
			return client.RemoveContainer(ctx, id)
		default:
			logs, err := client.ContainerLogs(ctx, id, *tail)
			if err != nil {
				return err
			}
			_, err = io.WriteString(out, logs)
			return err
		}
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
