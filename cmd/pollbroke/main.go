package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/RoanBrand/pollbroke"
	"github.com/RoanBrand/pollbroke/internal/config"
	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

type program struct {
	server     *pollbroke.Server
	configFlag string
	execDir    string
}

func (p *program) Start(s service.Service) error {
	conf, err := p.loadConfig()
	if err != nil {
		return err
	}

	p.server, err = pollbroke.NewServer(conf, &logHandler{})
	if err != nil {
		return err
	}

	go func() {
		if err := p.server.Start(); err != nil {
			log.Fatal(err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.server != nil {
		p.server.Stop()
	}
	return nil
}

func (p *program) loadConfig() (*config.Config, error) {
	if p.configFlag != "" {
		log.Infoln("Using config file:", p.configFlag)
		return config.New(p.configFlag)
	}

	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		toTry := filepath.Join(p.execDir, name)
		if fileExists(toTry) {
			log.Infoln("Using config file:", toTry)
			return config.New(toTry)
		}
	}

	log.Infoln("No config file specified or found. Using defaults.")
	return config.New("")
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "pollbroke",
		Short: "MQTT front end on a single event loop",
		Long: `pollbroke accepts MQTT 3.1.1 connections over TCP and optionally
websocket, and decodes their control packets on one readiness-driven
event loop.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		runCmd(),
		serviceCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the server, interactively or under the service manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService(configPath)
			if err != nil {
				return err
			}
			return s.Run()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path of config file")
	return cmd
}

func serviceCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "service <action>",
		Short: "Control the system service",
		Long:  fmt.Sprintf("Control the system service. Valid actions: %q", service.ControlAction),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService(configPath)
			if err != nil {
				return err
			}
			return service.Control(s, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path of config file, passed on to the installed service")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pollbroke %s (%s)\n", version, commit)
		},
	}
}

func newService(configPath string) (service.Service, error) {
	ePath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	eDir, _ := filepath.Split(ePath)

	// Set defaults before config override.
	if service.Interactive() {
		log.SetLevel(log.DebugLevel)
	} else {
		f, err := os.OpenFile(filepath.Join(eDir, "pollbroke.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		log.SetOutput(f)
	}

	args := []string{"run"}
	if configPath != "" {
		if configPath, err = filepath.Abs(configPath); err != nil {
			return nil, err
		}
		args = append(args, "-c", configPath)
	}

	prg := program{configFlag: configPath, execDir: eDir}
	svcConfig := service.Config{
		Name:        "pollbroke",
		DisplayName: "pollbroke MQTT server",
		Description: "pollbroke MQTT server. See https://github.com/RoanBrand/pollbroke",
		Arguments:   args,
	}

	return service.New(&prg, &svcConfig)
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}
