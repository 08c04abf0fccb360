package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"mpm2emu/pkg/boot"
	"mpm2emu/pkg/bridge"
	"mpm2emu/pkg/config"
	"mpm2emu/pkg/console"
	"mpm2emu/pkg/cpu"
	"mpm2emu/pkg/disk"
	"mpm2emu/pkg/frontend"
	"mpm2emu/pkg/membank"
	"mpm2emu/pkg/runner"
	"mpm2emu/pkg/version"
	"mpm2emu/pkg/xios"
)

var (
	diskFlags      []string
	bootImage      string
	systemImage    string
	local          bool
	sshPort        int
	hostKeyPath    string
	authorizedKeys string
	noAuth         bool
	httpPort       int
	accessLogPath  string
	timeoutSecs    int
	configPath     string
	showVersion    bool
)

var rootCmd = &cobra.Command{
	Use:   "mpm2emu",
	Short: "mpm2emu " + version.GetVersion() + " — a multi-user MP/M II emulator",
	Long: `mpm2emu emulates a multi-user MP/M II system on a bank-switched Z80
address space, exposing its virtual consoles over SSH and its guest file
system over SFTP and read-only HTTP.`,
	RunE: runEmulator,
}

func init() {
	rootCmd.Flags().StringArrayVarP(&diskFlags, "disk", "d", nil, "mount disk image at A..P (repeatable), LETTER:PATH")
	rootCmd.Flags().StringVarP(&bootImage, "boot", "b", "", "cold-boot disk image")
	rootCmd.Flags().StringVarP(&systemImage, "sys", "s", "", "direct system image")
	rootCmd.Flags().BoolVarP(&local, "local", "l", false, "also mirror console 0 to local stdio")
	rootCmd.Flags().IntVarP(&sshPort, "port", "p", 2222, "SSH listen port")
	rootCmd.Flags().StringVarP(&hostKeyPath, "key", "k", "", "host key (PEM or DER)")
	rootCmd.Flags().StringVarP(&authorizedKeys, "authorized-keys", "a", "", "authorized public keys")
	rootCmd.Flags().BoolVarP(&noAuth, "no-auth", "n", false, "accept any SSH authentication")
	rootCmd.Flags().IntVarP(&httpPort, "http", "w", 0, "HTTP port (0 disables)")
	rootCmd.Flags().StringVar(&accessLogPath, "log", "", "access log path")
	rootCmd.Flags().IntVarP(&timeoutSecs, "timeout", "t", 0, "wall-clock run limit in seconds (0 = none)")
	rootCmd.Flags().StringVar(&configPath, "config", "", "optional INI file supplying defaults")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runEmulator(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Println(version.GetFullVersion())
		return nil
	}

	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("mpm2emu: configuration: %w", err)
	}

	space := membank.New(membank.DefaultBankCount, membank.DefaultHighBase)
	c := cpu.New(space)

	fs := afero.NewOsFs()
	disks := disk.NewSubsystem(fs, space)
	for _, d := range cfg.Disks {
		path := d.Path
		if err := disks.Mount(d.Drive, path, false, nil); err != nil {
			return fmt.Errorf("mpm2emu: mounting drive %c: %w", 'A'+d.Drive, err)
		}
	}

	consoles := console.NewRegistry(8)

	br := bridge.New()
	dispatcher := xios.New(consoles, disks, br)
	c.SetDispatcher(dispatcher)

	loader := boot.NewLoader()
	ticksPerSecond := 60
	switch {
	case cfg.SystemImage != "":
		data, err := os.ReadFile(cfg.SystemImage)
		if err != nil {
			return fmt.Errorf("mpm2emu: reading system image: %w", err)
		}
		sysdat, err := loader.LoadSystemImage(data, space, c, dispatcher)
		if err != nil {
			return fmt.Errorf("mpm2emu: loading system image: %w", err)
		}
		dispatcher.SetHeuristicPatches(loader.HeuristicPatches)
		if sysdat.TicksPerSecond > 0 {
			ticksPerSecond = int(sysdat.TicksPerSecond)
		}
	case cfg.BootImage != "":
		if err := loader.ColdBoot(disks, c); err != nil {
			return fmt.Errorf("mpm2emu: cold boot: %w", err)
		}
	default:
		return fmt.Errorf("mpm2emu: one of --boot or --sys is required")
	}

	run := runner.New(c, dispatcher, consoles, ticksPerSecond)
	if cfg.TimeoutSeconds > 0 {
		run.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	run.Start()
	defer run.Stop()

	accessLog, err := frontend.NewAccessLogger(cfg.AccessLogPath)
	if err != nil {
		return fmt.Errorf("mpm2emu: access log: %w", err)
	}

	var httpServer *http.Server
	if cfg.HTTPPort > 0 {
		httpServer = frontend.NewHTTPServer(br, fmt.Sprintf(":%d", cfg.HTTPPort))
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Error("mpm2emu: HTTP server stopped")
			}
		}()
		defer httpServer.Close()
	}

	if cfg.Local {
		con, _ := consoles.Get(0)
		mirror := frontend.NewLocalMirror(con)
		stop := make(chan struct{})
		go mirror.Run(stop)
		defer close(stop)
	}

	sshCfg := frontend.SSHConfig{
		HostKeyPath:    cfg.HostKeyPath,
		AuthorizedKeys: cfg.AuthorizedKeys,
		NoAuth:         cfg.NoAuth,
	}
	sshServer, err := frontend.NewSSHServer(consoles, br, sshCfg, accessLog)
	if err != nil {
		return fmt.Errorf("mpm2emu: SSH server: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.SSHPort))
	if err != nil {
		return fmt.Errorf("mpm2emu: SSH listen: %w", err)
	}
	defer ln.Close()

	logrus.WithField("port", cfg.SSHPort).Info("mpm2emu: listening")
	return sshServer.Serve(ln)
}

func buildConfig() (*config.Config, error) {
	cfg := &config.Config{
		BootImage:      bootImage,
		SystemImage:    systemImage,
		Local:          local,
		SSHPort:        sshPort,
		HostKeyPath:    hostKeyPath,
		AuthorizedKeys: authorizedKeys,
		NoAuth:         noAuth,
		HTTPPort:       httpPort,
		AccessLogPath:  accessLogPath,
		TimeoutSeconds: timeoutSecs,
	}
	for _, spec := range diskFlags {
		d, err := config.ParseDiskSpec(spec)
		if err != nil {
			return nil, err
		}
		cfg.Disks = append(cfg.Disks, d)
	}

	if configPath != "" {
		if err := config.LoadINI(configPath, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
