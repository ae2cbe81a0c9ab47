package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gonzalop/ftpcore/internal/ctlclient"
)

func newProbeCmd() *cobra.Command {
	var (
		addr     string
		user     string
		password string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe [command...]",
		Short: "Send control commands to an FTP server and print the replies",
		Long: `Connect to an FTP server, optionally log in, send each argument as one control line and print every reply. Without arguments FEAT and STAT are sent.

Example: ftpcored probe --addr localhost:2121 "STAT /" "SIZE /readme.txt"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if len(args) == 0 {
				args = []string{"FEAT", "STAT"}
			}
			return probe(ctx, cmd.OutOrStdout(), addr, user, password, timeout, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", "localhost:2121", "Server address")
	f.StringVar(&user, "user", "anonymous", "User to log in as (empty skips login)")
	f.StringVar(&password, "password", "anonymous@", "Password")
	f.DurationVar(&timeout, "timeout", 10*time.Second, "Timeout for each reply")
	return cmd
}

func probe(ctx context.Context, out io.Writer, addr, user, password string, timeout time.Duration, lines []string) error {
	c, err := ctlclient.Dial(ctx, addr, ctlclient.WithTimeout(timeout))
	if err != nil {
		return err
	}
	defer c.Quit()

	fmt.Fprintln(out, c.Welcome.String())

	if user != "" {
		if err := c.Login(user, password); err != nil {
			return err
		}
	}

	for _, line := range lines {
		verb, arg, _ := strings.Cut(line, " ")
		var args []string
		if arg != "" {
			args = []string{arg}
		}
		resp, err := c.Send(verb, args...)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "> %s\n%s\n", line, resp.String())
	}
	return nil
}
