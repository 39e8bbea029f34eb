// Package adb drives the Android Debug Bridge command line tool.
package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
)

var (
	// ErrBinaryNotFound is returned when the adb executable cannot be located.
	ErrBinaryNotFound = errors.New("adb binary not found")
	// ErrNoDevice is returned when no device in the "device" state is attached.
	ErrNoDevice = errors.New("no device connected")
	// ErrMultipleDevices is returned when more than one device is attached and
	// no serial was given to pick one.
	ErrMultipleDevices = errors.New("more than 1 device connected")
	// ErrDeviceNotFound is returned when the requested serial is not attached.
	ErrDeviceNotFound = errors.New("device not found")
)

// Client provides the adb operations used for syncing
type Client interface {
	// Devices lists the attached devices
	Devices(ctx context.Context) ([]Device, error)
	// Shell runs command on the device through its shell and returns stdout
	Shell(ctx context.Context, command string) (string, error)
	// Pull copies a remote file to a local path
	Pull(ctx context.Context, remote, local string, preserveTime bool) (string, error)
	// Push copies a local file to a remote path
	Push(ctx context.Context, local, remote string) (string, error)
}

// Device is one line of `adb devices` output.
type Device struct {
	Serial string
	State  string
}

// Online reports whether adb can talk to the device.
func (d Device) Online() bool {
	return d.State == "device"
}

// ShellClient implements Client by shelling out to the adb command
type ShellClient struct {
	binary string
	serial string
}

// NewShellClient creates a new adb client. An empty binary means "adb" from
// PATH; an empty serial lets adb pick the only attached device.
func NewShellClient(binary, serial string) *ShellClient {
	if binary == "" {
		binary = "adb"
	}
	return &ShellClient{
		binary: binary,
		serial: serial,
	}
}

// Devices runs `adb devices` and parses its output
func (c *ShellClient) Devices(ctx context.Context) ([]Device, error) {
	// devices must not be scoped to a serial
	cmd := exec.CommandContext(ctx, c.binary, "devices")
	output, err := c.runCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("adb devices failed: %w", err)
	}
	return ParseDevices(output), nil
}

// Shell runs command through `adb shell`. The command is interpreted by the
// device shell, so callers must quote paths with ShellQuote.
func (c *ShellClient) Shell(ctx context.Context, command string) (string, error) {
	output, err := c.runCommand(c.command(ctx, "shell", command))
	if err != nil {
		return "", fmt.Errorf("adb shell %q failed: %w", command, err)
	}
	return output, nil
}

// Pull copies remote to local. With preserveTime adb keeps the remote
// modification time on the local copy.
func (c *ShellClient) Pull(ctx context.Context, remote, local string, preserveTime bool) (string, error) {
	args := []string{"pull"}
	if preserveTime {
		args = append(args, "-a")
	}
	args = append(args, remote, local)

	output, err := c.runCommand(c.command(ctx, args...))
	if err != nil {
		return "", fmt.Errorf("adb pull %s failed: %w", remote, err)
	}
	return strings.TrimSpace(output), nil
}

// Push copies local to remote. adb push does not reliably keep the local
// modification time, callers that need it set it afterwards.
func (c *ShellClient) Push(ctx context.Context, local, remote string) (string, error) {
	output, err := c.runCommand(c.command(ctx, "push", local, remote))
	if err != nil {
		return "", fmt.Errorf("adb push %s failed: %w", local, err)
	}
	return strings.TrimSpace(output), nil
}

// command builds an adb invocation scoped to the configured serial
func (c *ShellClient) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	if c.serial != "" {
		cmd.Args = insertFlags(cmd.Args, "-s", c.serial)
	}
	return cmd
}

// insertFlags inserts flags immediately after the program name,
// before the subcommand (e.g. "shell", "pull").
func insertFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// runCommand executes a command and returns stdout, or an error carrying
// stderr on failure
func (c *ShellClient) runCommand(cmd *exec.Cmd) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, c.binary)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("%w: %s", err, msg)
	}
	return stdout.String(), nil
}

// ParseDevices parses the output of `adb devices`.
func ParseDevices(output string) []Device {
	var devices []Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devices = append(devices, Device{Serial: fields[0], State: fields[1]})
	}
	return devices
}

// SelectDevice picks the device a sync will talk to. With an empty serial
// exactly one online device must be attached.
func SelectDevice(devices []Device, serial string) (Device, error) {
	if serial != "" {
		for _, d := range devices {
			if d.Serial == serial {
				if !d.Online() {
					return Device{}, fmt.Errorf("device %s is %s", d.Serial, d.State)
				}
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, serial)
	}

	var online []Device
	for _, d := range devices {
		if d.Online() {
			online = append(online, d)
		}
	}
	switch len(online) {
	case 0:
		return Device{}, ErrNoDevice
	case 1:
		return online[0], nil
	default:
		return Device{}, ErrMultipleDevices
	}
}

// ShellQuote wraps s in single quotes, escaping any embedded single quotes.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
