package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/betbot/botdash/internal/app"
	"github.com/betbot/botdash/internal/botsync"
	"github.com/betbot/botdash/pkg/config"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// cli 命令共享的参数和环境
type cli struct {
	configPath string
	backendURL string
	jsonOut    bool
	logLevel   string

	env *app.Environment
	out io.Writer
}

// run 执行一条命令；无论成功与否都释放存储（badger 持有目录锁）
func run(ctx context.Context, args []string, out io.Writer) error {
	root, c := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	err := root.ExecuteContext(ctx)
	if cerr := c.close(); err == nil {
		err = cerr
	}
	return err
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}
	root := &cobra.Command{
		Use:   "botctl",
		Short: "Manage dashboard bots from the command line",
		Long: `botctl drives the same sync core as the botdash dashboard:
bots are listed from the remote service, cached in local storage, and
deleted bots are remembered so they never reappear.

Examples:
  botctl list
  botctl add "Support Bot" --api-key sk-...
  botctl update-text abc123 chatboxText "Hi there"
  botctl update-image abc123 chatIcon ./icon.png
  botctl delete abc123`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("BOTDASH_CONFIG"), "YAML config file")
	root.PersistentFlags().StringVar(&c.backendURL, "backend", "", "backend base URL (runtime override)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print JSON instead of a table")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		c.listCmd(),
		c.addCmd(),
		c.deleteCmd(),
		c.updateImageCmd(),
		c.updateTextCmd(),
		c.refreshCmd(),
		c.probeCmd(),
		c.backendCmd(),
	)
	return root, c
}

func (c *cli) open(cmd *cobra.Command) error {
	c.out = cmd.OutOrStdout()
	_ = config.LoadDotEnv()

	cfg, err := config.LoadFromFile(c.configPath)
	if err != nil {
		return err
	}
	cfg.Log.Level = c.logLevel
	cfg.Log.File = ""
	if err := app.InitLogger(cfg, true); err != nil {
		return err
	}
	// 单次命令不需要轮询
	cfg.Sync.PollInterval = 0

	env, err := app.NewEnvironment(app.Options{Config: cfg, BackendOverride: c.backendURL})
	if err != nil {
		return err
	}
	c.env = env
	return nil
}

func (c *cli) close() error {
	if c.env == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.env.Close(ctx)
	c.env = nil
	return err
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printBots(bots []botsync.Bot) error {
	if c.jsonOut {
		return c.printJSON(bots)
	}
	if len(bots) == 0 {
		fmt.Fprintln(c.out, mutedStyle.Render("no bots"))
		return nil
	}
	nameW := len("NAME")
	for _, b := range bots {
		nameW = max(nameW, len(b.Name))
	}
	fmt.Fprintln(c.out, titleStyle.Render(fmt.Sprintf("%-*s  %-10s  %s", nameW, "NAME", "CODE", "URL")))
	for _, b := range bots {
		fmt.Fprintf(c.out, "%-*s  %-10s  %s\n", nameW, b.Name, b.Code, b.URL)
	}
	return nil
}

func (c *cli) printBot(b botsync.Bot) error {
	if c.jsonOut {
		return c.printJSON(b)
	}
	fmt.Fprintf(c.out, "%s %s (%s)\n", okStyle.Render("✓"), b.Name, b.Code)
	fmt.Fprintf(c.out, "  %s\n", b.URL)
	return nil
}

// findBot 在集合中查找 code；本地没有时先刷新一次
func (c *cli) findBot(ctx context.Context, code string) (botsync.Bot, error) {
	if b, ok := c.env.Sync.Bot(code); ok {
		return b, nil
	}
	if err := c.env.Sync.Refresh(ctx); err != nil {
		return botsync.Bot{}, err
	}
	if b, ok := c.env.Sync.Bot(code); ok {
		return b, nil
	}
	return botsync.Bot{}, fmt.Errorf("bot %s not found", code)
}

func failure(msg string) string {
	return errStyle.Render(strings.TrimSpace(msg))
}
