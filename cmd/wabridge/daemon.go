package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
)

const launchdLabel = "com.wabridge.serve"

// serviceUnit is a rendered service definition for the host's init system,
// plus the shell hints printed after install.
type serviceUnit struct {
	path     string
	contents string
	hints    []string
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Install or remove the bridge as a system daemon",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Write a launchd or systemd unit that keeps `wabridge serve` running",
		Long:  "Writes a user-level service definition so the bridge starts at login and is restarted when it exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			unit, err := buildServiceUnit()
			if err != nil {
				return err
			}
			return installService(unit)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the bridge service definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := serviceUnitPath()
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Daemon uninstalled: %s\n", path)
			return nil
		},
	})
	return cmd
}

func buildServiceUnit() (serviceUnit, error) {
	execPath, err := os.Executable()
	if err != nil {
		return serviceUnit{}, fmt.Errorf("cannot determine executable path: %w", err)
	}
	cfgPath := resolveConfigPath()
	path, err := serviceUnitPath()
	if err != nil {
		return serviceUnit{}, err
	}

	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		logDir := filepath.Join(home, ".wabridge", "logs")
		os.MkdirAll(logDir, 0o755)
		contents, err := renderService(launchdTemplate, map[string]string{
			"Label":  launchdLabel,
			"Exec":   execPath,
			"Config": cfgPath,
			"Log":    filepath.Join(logDir, "wabridge.log"),
			"ErrLog": filepath.Join(logDir, "wabridge-error.log"),
		})
		if err != nil {
			return serviceUnit{}, err
		}
		return serviceUnit{
			path:     path,
			contents: contents,
			hints: []string{
				"To start: launchctl load " + path,
				"To stop:  launchctl unload " + path,
			},
		}, nil
	case "linux":
		contents, err := renderService(systemdTemplate, map[string]string{
			"Exec":   execPath,
			"Config": cfgPath,
		})
		if err != nil {
			return serviceUnit{}, err
		}
		return serviceUnit{
			path:     path,
			contents: contents,
			hints: []string{
				"To start:  systemctl --user start wabridge",
				"To enable: systemctl --user enable wabridge",
				"To stop:   systemctl --user stop wabridge",
			},
		}, nil
	default:
		return serviceUnit{}, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
	}
}

func serviceUnitPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", "wabridge.service"), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
	}
}

func installService(unit serviceUnit) error {
	if err := os.MkdirAll(filepath.Dir(unit.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(unit.path, []byte(unit.contents), 0o644); err != nil {
		return err
	}
	fmt.Printf("Daemon installed: %s\n", unit.path)
	for _, h := range unit.hints {
		fmt.Println(h)
	}
	return nil
}

func renderService(tmpl string, data map[string]string) (string, error) {
	t, err := template.New("service").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse service template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render service template: %w", err)
	}
	return b.String(), nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{.Config}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.Log}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrLog}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=wabridge WhatsApp relay
After=network.target

[Service]
Type=simple
ExecStart={{.Exec}} serve --config {{.Config}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
