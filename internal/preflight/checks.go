package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"shelfarr/internal/downloader"
)

const checkTimeout = 10 * time.Second

// CheckDownloadClient verifies a configured client answers and accepts its credentials.
func CheckDownloadClient(ctx context.Context, registry *downloader.Registry, id string) Result {
	name := "Client " + id
	client, err := registry.Get(id)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	result := client.TestConnection(checkCtx)
	if !result.Success {
		detail := result.Message
		if errors.Is(checkCtx.Err(), context.DeadlineExceeded) {
			detail = "connection test timed out"
		}
		return Result{Name: name, Detail: detail}
	}
	if result.Version != "" {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s %s reachable", client.Type(), result.Version)}
	}
	return Result{Name: name, Passed: true, Detail: client.Type() + " reachable"}
}

// CheckLibrary verifies the library server is reachable and the token is valid.
func CheckLibrary(ctx context.Context, lib Pinger) Result {
	const name = "Library"

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := lib.Ping(checkCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{Name: name, Detail: "ping timed out"}
		}
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}
