package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kestrelterm/kestrel/pkg/app"
	"github.com/kestrelterm/kestrel/pkg/config"
	"github.com/kestrelterm/kestrel/pkg/tty"
)

// version injected at build time
var version = "dev"

var (
	configPath string
	noAlt      bool
	fontName   string
	geometry   string
	title      string
	winName    string
	winClass   string
	exeCmd     string
	outPath    string
	lineDev    string
	bench      bool
	recordPath string
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:   "kestrel [flags] [-- args]",
	Short: "kestrel - a terminal emulator",
	Long: `Kestrel allocates a pseudoterminal, runs your shell on it, and
interprets the resulting byte stream as a VT100/xterm-style terminal.`,
	RunE:    run,
	Version: version,
	Args:    cobra.ArbitraryArgs,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "overrides config file")
	f.BoolVarP(&noAlt, "noalt", "a", false, "disables alt screens")
	f.StringVarP(&fontName, "font", "f", "", "font string")
	f.StringVarP(&geometry, "geometry", "g", "", `window geometry; COLSxROWS, e.g. "80x24"`)
	f.StringVarP(&title, "title", "t", "", "window title; defaults to kestrel")
	f.StringVarP(&winName, "name", "n", "", "window name; defaults to $TERM")
	f.StringVarP(&winClass, "class", "w", "", "overrides window class")
	f.StringVarP(&exeCmd, "exe", "e", "",
		`command to execute instead of shell; any arguments to the
command may be specified after a "--"`)
	f.StringVarP(&outPath, "out", "o", "", `writes all io to this file; "-" means stdout`)
	f.StringVarP(&lineDev, "line", "l", "",
		"use a tty line instead of creating a new pty; LINE is expected to be the device")
	f.BoolVarP(&bench, "bench", "b", false, "run config and exit")
	f.StringVar(&recordPath, "record", "", "record the session to an asciicast v2 file")
	f.BoolVar(&debugMode, "debug", false, "enable debug logging")
	f.BoolP("version", "v", false, "show version and exit")
}

func parseGeometry(g string) (cols, rows int, ok bool) {
	x := strings.IndexByte(g, 'x')
	if x <= 0 {
		return 0, 0, false
	}
	c, err1 := strconv.Atoi(g[:x])
	r, err2 := strconv.Atoi(g[x+1:])
	if err1 != nil || err2 != nil || c <= 0 || r <= 0 {
		return 0, 0, false
	}
	return c, r, true
}

func run(cmd *cobra.Command, args []string) error {
	logrus.SetLevel(logrus.InfoLevel)
	if debugMode {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("comp", "main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// command line wins over config
	if title != "" {
		cfg.Title = title
	}
	if fontName != "" {
		cfg.Font = fontName
	}
	if noAlt {
		allow := false
		cfg.AllowAltScreen = &allow
	}
	if winName != "" || winClass != "" {
		// held for the window collaborator; the core has no use for them
		log.Debugf("window name %q class %q", winName, winClass)
	}

	// nothing else to do for a config check
	if bench {
		return nil
	}

	cols, rows := cfg.DefaultCols, cfg.DefaultRows
	if geometry != "" {
		if c, r, ok := parseGeometry(geometry); ok {
			cols, rows = c, r
		} else {
			log.Warnf("ignoring invalid geometry %q", geometry)
		}
	} else if term.IsTerminal(int(os.Stdout.Fd())) {
		// inherit the geometry we were launched from
		if c, r, err := term.GetSize(int(os.Stdout.Fd())); err == nil && c > 0 && r > 0 {
			cols, rows = c, r
		}
	}
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	var childCmd []string
	if exeCmd != "" {
		childCmd = append([]string{exeCmd}, args...)
	}

	a, err := app.New(cfg, app.Options{
		Tty: tty.Options{
			Cmd:  childCmd,
			Out:  outPath,
			Line: lineDev,
		},
		RecordPath: recordPath,
		Cols:       cols,
		Rows:       rows,
	})
	if err != nil {
		return err
	}

	// palette edits are the only piece of config applied live; the
	// rest would tear mid-frame
	if configPath != "" {
		w, err := config.Watch(configPath, func(next *config.Config) {
			live, fresh := cfg.Palette(), next.Palette()
			for i := 0; i < 256; i++ {
				live.Set(i, fresh.Get(i))
			}
		})
		if err != nil {
			log.Warnf("config watching disabled: %v", err)
		} else {
			defer w.Close()
		}
	}

	os.Exit(a.Run())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
