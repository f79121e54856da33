// Package snap installs snaps into an instance, either fresh from the
// store or by injecting the host's installed revision so the instance runs
// exactly what the host runs.
package snap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"

	"github.com/foundrybuild/foundry/internal/executor"
	"github.com/foundrybuild/foundry/internal/logging"
	"github.com/foundrybuild/foundry/internal/provider"
)

const snapdSocket = "/run/snapd.socket"

// InstallFromStore downloads and installs a snap inside the instance. The
// download is pinned to a basename under /tmp so the install path is
// predictable, and installed with --dangerous because a locally downloaded
// snap has no store assertions.
func InstallFromStore(ctx context.Context, e executor.Executor, name, channel string, classic bool) error {
	download := []string{
		"snap", "download", name,
		"--channel=" + channel,
		"--basename=" + name,
		"--target-directory=/tmp",
	}
	if _, err := e.Execute(ctx, download, executor.RunOptions{Check: true}); err != nil {
		return provider.WrapCommandError(
			fmt.Sprintf("failed to download snap %q from channel %q", name, channel), err)
	}

	return install(ctx, e, name, classic)
}

// InjectFromHost copies the host's installed snap into the instance and
// installs it there. The snap file is obtained from snapd over its control
// socket; when snapd cannot serve it the squashfs is packed from the
// mounted revision instead.
func InjectFromHost(ctx context.Context, e executor.Executor, name string, classic bool, logger *slog.Logger) error {
	logger = logging.Ensure(logger)

	local, err := fetchHostSnap(ctx, name)
	if err != nil {
		logger.Debug("snapd did not serve the snap file, packing instead",
			"snap", name, "error", err)
		local, err = packHostSnap(name)
		if err != nil {
			return &provider.Error{
				Brief:      fmt.Sprintf("failed to obtain snap %q from the host", name),
				Resolution: fmt.Sprintf("Verify the snap is installed on the host: snap list %s", name),
				Err:        err,
			}
		}
	}
	defer os.Remove(local)

	target := "/tmp/" + name + ".snap"
	if _, err := e.Execute(ctx, []string{"rm", "-f", target}, executor.RunOptions{Check: true}); err != nil {
		return provider.WrapCommandError("failed to clear stale snap file", err)
	}
	if err := e.Push(ctx, local, target); err != nil {
		return fmt.Errorf("push snap %q into instance: %w", name, err)
	}

	return install(ctx, e, name, classic)
}

func install(ctx context.Context, e executor.Executor, name string, classic bool) error {
	args := []string{"snap", "install", "/tmp/" + name + ".snap", "--dangerous"}
	if classic {
		args = append(args, "--classic")
	}
	if _, err := e.Execute(ctx, args, executor.RunOptions{Check: true}); err != nil {
		return provider.WrapCommandError(fmt.Sprintf("failed to install snap %q", name), err)
	}
	return nil
}

// fetchHostSnap downloads the host's snap file through snapd's control
// socket and returns the path of the temporary copy.
func fetchHostSnap(ctx context.Context, name string) (string, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", snapdSocket)
			},
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"http://localhost/v2/snaps/"+name+"/file", nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query snapd: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("snapd returned status %s for snap %q", resp.Status, name)
	}

	tmp, err := os.CreateTemp("", name+"-*.snap")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save snap %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// packHostSnap rebuilds the snap file from the host's mounted revision.
func packHostSnap(name string) (string, error) {
	dir, err := os.MkdirTemp("", "foundry-snap-")
	if err != nil {
		return "", err
	}

	out := dir + "/" + name + ".snap"
	cmd := exec.Command("snap", "pack", "/snap/"+name+"/current", "--filename", out)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("pack snap %q: %w: %s", name, err, output)
	}
	return out, nil
}
