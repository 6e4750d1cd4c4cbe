package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"github.com/celerix-dev/celerix-presence/pkg/sdk"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "presence: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	defaultAddr := os.Getenv(sdk.AddrEnv)
	if defaultAddr == "" {
		defaultAddr = "http://localhost:8000"
	}

	flags := pflag.NewFlagSet("presence", pflag.ContinueOnError)
	addr := flags.String("addr", defaultAddr, "presence daemon base URL")
	operator := flags.StringP("operator", "o", sdk.DefaultOperator, "operator recorded for reset and delete")
	timeout := flags.Duration("timeout", 10*time.Second, "per request timeout")
	lat := flags.Float64("lat", 0, "latitude sent with set")
	lon := flags.Float64("lon", 0, "longitude sent with set")
	limit := flags.IntP("limit", "n", 0, "number of audit entries to show")
	flags.Usage = func() { printUsage(flags) }

	if err := flags.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	args := flags.Args()
	if len(args) == 0 {
		printUsage(flags)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout*4)
	defer cancel()
	client := sdk.NewClient(*addr, sdk.WithTimeout(*timeout))

	command := strings.ToLower(args[0])
	args = args[1:]

	switch command {
	case "register":
		if len(args) < 1 {
			return errors.New("usage: presence register <full name>")
		}
		p, err := client.Register(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		printJSON(p.View())

	case "status":
		if len(args) != 1 {
			return errors.New("usage: presence status <token>")
		}
		p, err := client.GetStatus(ctx, args[0])
		if err != nil {
			return err
		}
		printJSON(p.View())

	case "set":
		if len(args) != 2 {
			return errors.New("usage: presence set <token> <status> [--lat <lat> --lon <lon>]")
		}
		req := schema.TransitionRequest{Status: args[1]}
		if flags.Changed("lat") || flags.Changed("lon") {
			if !flags.Changed("lat") || !flags.Changed("lon") {
				return errors.New("--lat and --lon must be given together")
			}
			req.Latitude, req.Longitude = lat, lon
		}
		p, err := client.Transition(ctx, args[0], req)
		if err != nil {
			return err
		}
		printJSON(p.View())

	case "stats":
		c, err := client.AggregateCounts(ctx)
		if err != nil {
			return err
		}
		printJSON(c)

	case "absent":
		list, err := client.ListAbsent(ctx)
		if err != nil {
			return err
		}
		printJSON(list)

	case "users":
		list, err := client.ListAll(ctx)
		if err != nil {
			return err
		}
		printJSON(list)

	case "search":
		if len(args) < 1 {
			return errors.New("usage: presence search <query>")
		}
		list, err := client.SearchByName(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		printJSON(list)

	case "reset":
		res, err := client.BulkReset(ctx, *operator)
		if err != nil {
			return err
		}
		printJSON(res)

	case "delete":
		if len(args) != 1 {
			return errors.New("usage: presence delete <id>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.Newf("bad id %q", args[0])
		}
		res, err := client.DeletePerson(ctx, id, *operator)
		if err != nil {
			return err
		}
		printJSON(res)

	case "audit":
		entries, err := client.RecentAudit(ctx, *limit)
		if err != nil {
			return err
		}
		printJSON(entries)

	case "ping":
		if err := client.Ping(ctx); err != nil {
			return err
		}
		fmt.Println("PONG")

	default:
		printUsage(flags)
		return errors.Newf("unknown command %q", command)
	}
	return nil
}

func printUsage(flags *pflag.FlagSet) {
	fmt.Println("presence - operator CLI for the presence daemon")
	fmt.Println("\nUsage:")
	fmt.Println("  presence register <full name>")
	fmt.Println("  presence status <token>")
	fmt.Println("  presence set <token> <inside|work|day_off|request> [--lat <lat> --lon <lon>]")
	fmt.Println("  presence stats")
	fmt.Println("  presence absent")
	fmt.Println("  presence users")
	fmt.Println("  presence search <query>")
	fmt.Println("  presence reset [-o operator]")
	fmt.Println("  presence delete <id> [-o operator]")
	fmt.Println("  presence audit [-n limit]")
	fmt.Println("  presence ping")
	fmt.Println("\nFlags:")
	fmt.Print(flags.FlagUsages())
	fmt.Println("\nEnvironment Variables:")
	fmt.Printf("  %s    daemon base URL (default: http://localhost:8000)\n", sdk.AddrEnv)
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}
