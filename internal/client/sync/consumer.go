package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openmined/syftsync/internal/delta"
	"github.com/openmined/syftsync/internal/syftmsg"
	"github.com/openmined/syftsync/internal/syftsdk"
)

// Transport is the slice of the server API the consumer needs. The SDK's
// SyncAPI satisfies it; tests use a fake.
type Transport interface {
	DatasiteStates(ctx context.Context) (map[string][]*syftmsg.FileMetadata, error)
	GetMetadata(ctx context.Context, relPath string) (*syftmsg.FileMetadata, error)
	GetDiff(ctx context.Context, relPath, encodedSig string) (*syftmsg.GetDiffResponse, error)
	ApplyDiff(ctx context.Context, relPath, encodedDiff, expectedHash string) (*syftmsg.ApplyDiffResponse, error)
	Create(ctx context.Context, relPath string, content []byte) (*syftmsg.FileMetadata, error)
	Delete(ctx context.Context, relPath string) error
	Download(ctx context.Context, relPath string) ([]byte, error)
}

const (
	defaultMaxAttempts = 4
	defaultBackoffBase = 500 * time.Millisecond
)

// ErrConsumerPaused means authentication failed even after a token rotation;
// no operation runs until new credentials arrive.
var ErrConsumerPaused = errors.New("sync paused: authentication required")

// Consumer executes sync operations against the server, one path at a time.
type Consumer struct {
	owner     string
	rootDir   string
	transport Transport
	state     *LocalState
	locks     *keyedMutex
	ignore    *IgnoreList
	paused    atomic.Bool

	maxAttempts int
	backoffBase time.Duration

	// onLocalWrite runs just before the consumer touches a local path, so
	// the watcher can suppress the resulting event.
	onLocalWrite func(absPath string)
}

func NewConsumer(owner, rootDir string, transport Transport, state *LocalState) *Consumer {
	return &Consumer{
		owner:       owner,
		rootDir:     rootDir,
		transport:   transport,
		state:       state,
		locks:       newKeyedMutex(),
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
	}
}

// SetOnLocalWrite registers the watcher suppression hook.
func (c *Consumer) SetOnLocalWrite(fn func(absPath string)) {
	c.onLocalWrite = fn
}

// SetIgnore attaches the ignore rules re-checked before each operation.
func (c *Consumer) SetIgnore(ignore *IgnoreList) {
	c.ignore = ignore
}

// Paused reports whether the consumer stopped over an authentication failure.
func (c *Consumer) Paused() bool {
	return c.paused.Load()
}

// Resume lifts an authentication pause, typically after a token refresh or a
// fresh login.
func (c *Consumer) Resume() {
	c.paused.Store(false)
}

// Process runs one operation to completion, retrying transient failures with
// exponential backoff. Permission and validation failures are terminal.
func (c *Consumer) Process(ctx context.Context, op *Op) error {
	if c.paused.Load() {
		return ErrConsumerPaused
	}

	// the rules may have changed since the op was enqueued
	if c.ignore != nil && c.ignore.ShouldIgnore(op.Path) {
		slog.Debug("skipping op for ignored path", "op", op)
		return nil
	}

	c.locks.Lock(op.Path)
	defer c.locks.Unlock(op.Path)

	var err error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.backoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err = c.execute(ctx, op)
		if err == nil || !isTransient(err) {
			break
		}
		slog.Warn("sync op failed, will retry", "op", op, "attempt", attempt+1, "error", err)
	}

	if err != nil {
		switch {
		case errors.Is(err, syftsdk.ErrPermissionDenied):
			// no amount of retrying fixes a permission failure
			slog.Warn("sync op rejected", "op", op, "error", err)
		case errors.Is(err, syftsdk.ErrUnauthorized):
			// the SDK already rotated tokens and retried once; stop
			// hammering the server until new credentials arrive
			c.paused.Store(true)
			slog.Error("authentication failed, pausing sync", "op", op, "error", err)
		default:
			slog.Error("sync op failed", "op", op, "error", err)
		}
	}
	return err
}

func (c *Consumer) execute(ctx context.Context, op *Op) error {
	switch op.Kind {
	case OpPush:
		return c.push(ctx, op)
	case OpPull:
		return c.pull(ctx, op)
	case OpDeleteLocal:
		return c.deleteLocal(op)
	case OpDeleteRemote:
		return c.deleteRemote(ctx, op)
	default:
		return nil
	}
}

// isTransient reports whether an error is worth retrying. The wire sentinels
// are definitive answers from the server; everything else is assumed to be a
// transport hiccup.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syftsdk.ErrUnauthorized),
		errors.Is(err, syftsdk.ErrPermissionDenied),
		errors.Is(err, syftsdk.ErrNotFound),
		errors.Is(err, syftsdk.ErrAlreadyExists),
		errors.Is(err, syftsdk.ErrHashMismatch):
		return false
	}
	return true
}

func (c *Consumer) push(ctx context.Context, op *Op) error {
	absPath := c.absPath(op.Path)
	content, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		// deleted between scan and dequeue; a later scan decides what to do
		return nil
	}
	if err != nil {
		return err
	}
	hash := delta.HashBytes(content)

	remote := op.Remote
	if remote == nil {
		_, err := c.transport.Create(ctx, op.Path, content)
		if err == nil {
			return c.refreshLocal(op.Path)
		}
		if !errors.Is(err, syftsdk.ErrAlreadyExists) {
			return err
		}
		// someone else created it first; push our content as a diff instead
		remote, err = c.transport.GetMetadata(ctx, op.Path)
		if err != nil {
			return err
		}
	}

	err = c.pushDiff(ctx, op.Path, remote.Signature, content, hash)
	switch {
	case errors.Is(err, syftsdk.ErrHashMismatch):
		// remote moved under us; send the whole content as literals, which
		// patches correctly on any base
		err = c.pushDiff(ctx, op.Path, "", content, hash)
	case errors.Is(err, syftsdk.ErrNotFound):
		_, err = c.transport.Create(ctx, op.Path, content)
	}
	if err != nil {
		return err
	}
	slog.Debug("pushed", "path", op.Path, "size", humanize.IBytes(uint64(len(content))))
	return c.refreshLocal(op.Path)
}

// pushDiff uploads content as a delta against the signature. An empty
// signature yields an all-literal delta, i.e. a full upload.
func (c *Consumer) pushDiff(ctx context.Context, relPath, encodedSig string, content []byte, hash string) error {
	var sig *delta.Sig
	var err error
	if encodedSig == "" {
		sig, err = delta.ComputeSignature(bytes.NewReader(nil))
	} else {
		sig, err = delta.DecodeSig(encodedSig)
	}
	if err != nil {
		return fmt.Errorf("push %s: bad signature: %w", relPath, err)
	}

	d := delta.ComputeDiffBytes(sig, content)
	_, err = c.transport.ApplyDiff(ctx, relPath, delta.EncodeDelta(d), hash)
	return err
}

func (c *Consumer) pull(ctx context.Context, op *Op) error {
	absPath := c.absPath(op.Path)

	if op.Local == nil {
		err := c.download(ctx, op.Path, absPath)
		if errors.Is(err, syftsdk.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return c.refreshLocal(op.Path)
	}

	resp, err := c.transport.GetDiff(ctx, op.Path, op.Local.Signature)
	if errors.Is(err, syftsdk.ErrNotFound) {
		// remote copy is gone; converge by deleting ours
		return c.deleteLocal(op)
	}
	if err != nil {
		return err
	}

	if err := c.patchLocal(absPath, resp); err != nil {
		slog.Warn("pull patch failed, falling back to full download", "path", op.Path, "error", err)
		if err := c.download(ctx, op.Path, absPath); err != nil {
			return err
		}
	}
	return c.refreshLocal(op.Path)
}

// patchLocal applies a pulled delta to a temp file alongside the target,
// verifies the expected hash, and renames it into place.
func (c *Consumer) patchLocal(absPath string, resp *syftmsg.GetDiffResponse) error {
	d, err := delta.DecodeDelta(resp.Diff)
	if err != nil {
		return fmt.Errorf("decode diff: %w", err)
	}

	base, err := os.Open(absPath)
	if err != nil {
		return err
	}
	defer base.Close()
	info, err := base.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(absPath), ".syftsync-pull-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			os.Remove(tmpPath)
		}
	}()

	if err := delta.ApplyDelta(base, info.Size(), d, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("apply delta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	gotHash, err := delta.HashFile(tmpPath)
	if err != nil {
		return err
	}
	if gotHash != resp.ExpectedHash {
		return fmt.Errorf("patched content hash %s does not match expected %s", gotHash, resp.ExpectedHash)
	}

	c.markSelfWrite(absPath)
	if err := os.Rename(tmpPath, absPath); err != nil {
		return err
	}
	renamed = true
	return nil
}

func (c *Consumer) download(ctx context.Context, relPath, absPath string) error {
	content, err := c.transport.Download(ctx, relPath)
	if err != nil {
		return err
	}
	slog.Debug("downloaded", "path", relPath, "size", humanize.IBytes(uint64(len(content))))
	c.markSelfWrite(absPath)
	return writeFileAtomicIn(absPath, content)
}

func (c *Consumer) deleteLocal(op *Op) error {
	absPath := c.absPath(op.Path)
	c.markSelfWrite(absPath)
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	c.state.Forget(op.Path)
	return nil
}

func (c *Consumer) deleteRemote(ctx context.Context, op *Op) error {
	err := c.transport.Delete(ctx, op.Path)
	if errors.Is(err, syftsdk.ErrNotFound) {
		return nil
	}
	return err
}

func (c *Consumer) absPath(relPath string) string {
	return filepath.Join(c.rootDir, filepath.FromSlash(relPath))
}

// refreshLocal re-stats a path so the next scan sees the consumer's own
// write as already reconciled.
func (c *Consumer) refreshLocal(relPath string) error {
	_, err := c.state.RescanPath(relPath)
	return err
}

func (c *Consumer) markSelfWrite(absPath string) {
	if c.onLocalWrite != nil {
		c.onLocalWrite(absPath)
	}
}

func writeFileAtomicIn(absPath string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(absPath), ".syftsync-dl-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, absPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
