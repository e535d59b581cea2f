package main

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/betbot/botdash/internal/botapi"
)

func (c *cli) listCmd() *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bots (refreshes from the remote service unless --cached)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cached {
				if err := c.env.Sync.Refresh(cmd.Context()); err != nil {
					return err
				}
			}
			return c.printBots(c.env.Sync.Snapshot().Bots)
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "only print the local cache")
	return cmd
}

func (c *cli) addCmd() *cobra.Command {
	var apiKey string
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				apiKey = os.Getenv("BOTDASH_API_KEY")
			}
			b, err := c.env.Sync.AddBot(cmd.Context(), args[0], apiKey)
			if err != nil {
				return err
			}
			return c.printBot(b)
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "model API key (default $BOTDASH_API_KEY)")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "delete CODE",
		Short: "Delete a bot and remember it locally so it never reappears",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			if name == "" {
				b, err := c.findBot(cmd.Context(), code)
				switch {
				case err == nil:
					name = b.Name
				case slices.Contains(c.env.Sync.Tombstones(), code):
					// 已经删除过
					return c.printDeleted(code, true)
				default:
					return errors.Wrapf(err, "look up %s (pass --name to delete anyway)", code)
				}
			}
			if err := c.env.Sync.DeleteBot(cmd.Context(), name, code); err != nil {
				return err
			}
			return c.printDeleted(code, false)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "bot name (looked up when omitted)")
	return cmd
}

func (c *cli) printDeleted(code string, already bool) error {
	if c.jsonOut {
		return c.printJSON(map[string]any{"deleted": code, "already": already})
	}
	if already {
		fmt.Fprintf(c.out, "%s %s already deleted\n", okStyle.Render("✓"), code)
		return nil
	}
	fmt.Fprintf(c.out, "%s deleted %s\n", okStyle.Render("✓"), code)
	return nil
}

func (c *cli) updateImageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-image CODE TYPE FILE|DATA_URI",
		Short: "Upload chatIcon, botIcon, backgroundImage or headerImage",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := c.findBot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := imageData(args[2])
			if err != nil {
				return err
			}
			updated, err := c.env.Sync.UpdateBotImage(cmd.Context(), b, botapi.ImageKind(args[1]), data)
			if err != nil {
				return err
			}
			return c.printBot(updated)
		},
	}
}

// imageData 参数已是 data URI 时原样返回，否则按文件读取并编码
func imageData(arg string) (string, error) {
	if strings.HasPrefix(arg, "data:") {
		return arg, nil
	}
	raw, err := os.ReadFile(arg)
	if err != nil {
		return "", err
	}
	ct := http.DetectContentType(raw)
	if !strings.HasPrefix(ct, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", arg, ct)
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

func (c *cli) updateTextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-text CODE TYPE TEXT",
		Short: "Update chatboxText or chatGradient",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := c.findBot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			updated, err := c.env.Sync.UpdateBotText(cmd.Context(), b, botapi.TextKind(args[1]), args[2])
			if err != nil {
				return err
			}
			return c.printBot(updated)
		},
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh from the remote service and print the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.env.Sync.Refresh(cmd.Context()); err != nil {
				return err
			}
			snap := c.env.Sync.Snapshot()
			if c.jsonOut {
				return c.printJSON(snap)
			}
			if err := c.printBots(snap.Bots); err != nil {
				return err
			}
			fmt.Fprintln(c.out, mutedStyle.Render("refreshed at "+snap.LastRefresh.Format("15:04:05")))
			return nil
		},
	}
}

func (c *cli) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Test backend connectivity, switching to the first reachable fallback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := c.env.Prober.Test(cmd.Context())
			if c.jsonOut {
				return c.printJSON(res)
			}
			if !res.Success {
				fmt.Fprintln(c.out, failure("no reachable backend ("+c.env.Backend.Get()+")"))
				return fmt.Errorf("backend unreachable")
			}
			fmt.Fprintf(c.out, "%s %s\n", okStyle.Render("✓"), res.URL)
			return nil
		},
	}
}

func (c *cli) backendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Show the backend base URL and where it comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.jsonOut {
				return c.printJSON(map[string]string{"url": c.env.Backend.Get(), "source": string(c.env.Backend.Source())})
			}
			fmt.Fprintf(c.out, "%s %s\n", c.env.Backend.Get(), mutedStyle.Render("("+string(c.env.Backend.Source())+")"))
			return nil
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set URL",
			Short: "Store a backend URL override",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c.env.Backend.Set(args[0])
				fmt.Fprintf(c.out, "%s backend set to %s\n", okStyle.Render("✓"), c.env.Backend.Get())
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Remove the stored backend URL override",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c.env.Backend.Reset()
				fmt.Fprintf(c.out, "%s backend reset to %s\n", okStyle.Render("✓"), c.env.Backend.Get())
				return nil
			},
		},
	)
	return cmd
}
