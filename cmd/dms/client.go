package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"dms-go/internal/changeset"
	"dms-go/internal/client"
	"dms-go/internal/config"
	"dms-go/internal/dms"
)

// newClient builds an API client from the [client] config section. --server
// and --token (or DMS_TOKEN) override the file, and the file may be absent
// when --server is given.
func newClient(cmd *cobra.Command) (*client.Client, config.ClientConfig, error) {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")

	var cc config.ClientConfig
	cfg, _, err := loadConfig()
	switch {
	case err == nil:
		cc = cfg.Client
	case server != "":
		cc = config.NewConfig("").Client
	default:
		return nil, cc, err
	}

	if server != "" {
		cc.ServerURL = server
	}
	if env := os.Getenv("DMS_TOKEN"); env != "" {
		cc.Token = env
	}
	if token != "" {
		cc.Token = token
	}

	c, err := client.NewClientFromConfig(cc)
	if err != nil {
		return nil, cc, err
	}
	return c, cc, nil
}

// explain adds what a timeout means for the caller.
func explain(err error) error {
	if client.IsTransient(err) {
		return fmt.Errorf("%w (the server may or may not have applied the request; check again later)", err)
	}
	return err
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Wait until the server answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cc, err := newClient(cmd)
		if err != nil {
			return err
		}
		policy, err := client.ProbePolicyFromConfig(cc)
		if err != nil {
			return err
		}

		start := time.Now()
		return c.Probe(cmd.Context(), policy, func(s client.Status) {
			switch s {
			case client.StatusWaiting:
				fmt.Fprintln(os.Stderr, "Server is not answering, still waiting...")
			case client.StatusOnline:
				fmt.Printf("Server is up (%s)\n", time.Since(start).Round(time.Millisecond))
			}
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login [EMAIL]",
	Short: "Register the token's identity with the server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient(cmd)
		if err != nil {
			return err
		}
		email := ""
		if len(args) > 0 {
			email = args[0]
		}
		u, err := c.Login(cmd.Context(), email)
		if err != nil {
			return explain(err)
		}
		fmt.Printf("Logged in as %s %s <%s>\n", u.FirstName, u.LastName, u.Email)
		return nil
	},
}

var nameCmd = &cobra.Command{
	Use:   "name [FIRST LAST]",
	Short: "Show or change the account name",
	Args:  cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient(cmd)
		if err != nil {
			return err
		}

		var first, last string
		if len(args) == 0 {
			first, last, err = c.UserNames(cmd.Context())
		} else {
			first, last, err = c.ChangeName(cmd.Context(), strings.Join(args, " "))
		}
		if err != nil {
			return explain(err)
		}
		fmt.Printf("%s %s\n", first, last)
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "List the emails filed under a code",
	RunE: func(cmd *cobra.Command, args []string) error {
		codeFlag, _ := cmd.Flags().GetString("code")

		c, _, err := newClient(cmd)
		if err != nil {
			return err
		}
		code, err := codeFrom(codeFlag)
		if err != nil {
			return err
		}

		recs, err := c.Unlock(cmd.Context(), code)
		if err != nil {
			return explain(err)
		}
		if len(recs) == 0 {
			fmt.Println("No emails for this code.")
			return nil
		}
		printRecords(recs)
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Arm a new email",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := dms.NewEmail{}
		in.Subject, _ = cmd.Flags().GetString("subject")
		in.Body, _ = cmd.Flags().GetString("body")
		in.Recipients, _ = cmd.Flags().GetString("recipients")
		in.SendTime, _ = cmd.Flags().GetString("send-time")
		in.Interval, _ = cmd.Flags().GetString("interval")
		in.Timezone, _ = cmd.Flags().GetString("timezone")

		if err := changeset.Validate([]dms.Patch{{Recipients: &in.Recipients, Interval: &in.Interval}}); err != nil {
			return err
		}

		c, _, err := newClient(cmd)
		if err != nil {
			return err
		}
		in.Code, _ = cmd.Flags().GetString("code")
		if in.Code == "" {
			if in.Code, err = readSecretConfirmed("Code"); err != nil {
				return err
			}
		}
		in.CodeConfirm = in.Code

		rec, err := c.Create(cmd.Context(), in)
		if err != nil {
			return explain(err)
		}
		fmt.Printf("Armed %s, first send at %s\n", rec.ID, rec.DueAt().Local().Format(time.RFC3339))
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Change fields of an armed email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		codeFlag, _ := cmd.Flags().GetString("code")

		c, _, err := newClient(cmd)
		if err != nil {
			return err
		}
		code, err := codeFrom(codeFlag)
		if err != nil {
			return err
		}

		recs, err := c.Unlock(cmd.Context(), code)
		if err != nil {
			return explain(err)
		}
		ws := changeset.NewWorkspace(code, recs)

		var parseErr error
		err = ws.Edit(args[0], func(r *dms.EmailRecord) {
			flags := cmd.Flags()
			if flags.Changed("subject") {
				r.Subject, _ = flags.GetString("subject")
			}
			if flags.Changed("body") {
				r.Body, _ = flags.GetString("body")
			}
			if flags.Changed("recipients") {
				r.Recipients, _ = flags.GetString("recipients")
			}
			if flags.Changed("interval") {
				r.Interval, _ = flags.GetString("interval")
			}
			if flags.Changed("timezone") {
				r.Timezone, _ = flags.GetString("timezone")
			}
			if flags.Changed("send-time") {
				raw, _ := flags.GetString("send-time")
				if raw == "" {
					r.SendTime = nil
					return
				}
				t, err := dms.ParseSendTime(raw, r.Timezone)
				if err != nil {
					parseErr = err
					return
				}
				r.SendTime = &t
			}
		})
		if err != nil {
			return err
		}
		if parseErr != nil {
			return parseErr
		}

		confirmed, err := ws.Save(cmd.Context(), c)
		if errors.Is(err, dms.ErrNoChanges) {
			fmt.Println("Nothing to change.")
			return nil
		}
		if err != nil {
			return explain(err)
		}
		for _, cf := range confirmed {
			fmt.Printf("Saved %s, next send at %s\n", cf.ID, cf.IntervalNextSend.Local().Format(time.RFC3339))
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Disarm and delete an email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		codeFlag, _ := cmd.Flags().GetString("code")

		c, _, err := newClient(cmd)
		if err != nil {
			return err
		}
		code, err := codeFrom(codeFlag)
		if err != nil {
			return err
		}
		if err := c.Delete(cmd.Context(), args[0], code); err != nil {
			return explain(err)
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Postpone every email filed under a code",
	RunE: func(cmd *cobra.Command, args []string) error {
		codeFlag, _ := cmd.Flags().GetString("code")

		c, _, err := newClient(cmd)
		if err != nil {
			return err
		}
		code, err := codeFrom(codeFlag)
		if err != nil {
			return err
		}
		n, err := c.Checkin(cmd.Context(), code)
		if err != nil {
			return explain(err)
		}
		fmt.Printf("Checked in %d email(s)\n", n)
		return nil
	},
}

func printRecords(recs []*dms.EmailRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBJECT\tRECIPIENTS\tINTERVAL\tSEND TIME\tNEXT SEND")
	for _, r := range recs {
		sendTime := "-"
		if r.SendTime != nil {
			sendTime = r.SendTime.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Subject, r.Recipients, r.Interval, sendTime,
			r.IntervalNextSend.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func addClientCommands(root *cobra.Command) {
	fieldFlags := func(cmd *cobra.Command) {
		cmd.Flags().String("subject", "", "Subject line")
		cmd.Flags().String("body", "", "Message body")
		cmd.Flags().String("recipients", "", "Comma-separated recipient addresses")
		cmd.Flags().String("send-time", "", "One-shot send time, YYYY-MM-DDTHH:MM in --timezone or RFC 3339")
		cmd.Flags().String("interval", "", "Check-in interval, e.g. 1M or 7d12h")
		cmd.Flags().String("timezone", "", "IANA zone for --send-time (default UTC)")
	}
	fieldFlags(createCmd)
	fieldFlags(editCmd)

	for _, cmd := range []*cobra.Command{unlockCmd, createCmd, editCmd, deleteCmd, checkinCmd} {
		cmd.Flags().String("code", "", "Access code (prompted when omitted)")
	}

	for _, cmd := range []*cobra.Command{pingCmd, loginCmd, nameCmd, unlockCmd, createCmd, editCmd, deleteCmd, checkinCmd} {
		cmd.Flags().String("server", "", "Server URL (overrides client.server_url)")
		cmd.Flags().String("token", "", "Bearer token (overrides client.token and DMS_TOKEN)")
		root.AddCommand(cmd)
	}
}
