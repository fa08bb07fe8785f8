// Package daemon converts the current process into a well-behaved Unix
// daemon and optionally enforces that at most one daemon with a given name
// is alive on the host.
//
// Detachment is performed by re-executing the binary: the first stage
// starts a copy of itself in a new session and exits, which loses process
// group leadership and the controlling terminal in one step. An optional
// second stage re-executes once more so the surviving process is not a
// session leader either, the classic SVR4 discipline against reacquiring a
// controlling terminal. File descriptor sanitization falls out of the
// re-execution: only /dev/null (or, under inetd, the inherited socket) is
// passed to the surviving process as descriptors 0, 1 and 2, and Go opens
// everything else close-on-exec. A process started by init(8) skips the
// re-execution but still gets /dev/null duplicated onto descriptors 0, 1
// and 2; only under inetd(8) are they left open, since there they are the
// socket.
//
// Singleton enforcement uses a pidfile under PidDir whose exclusive
// advisory write lock encodes "this daemon is alive". Known flaw, exposed
// rather than concealed: if an outside party unlinks the pidfile while it
// is held, a second process can create a fresh pidfile with the same name,
// obtain its own lock, and both will consider themselves the unique
// daemon. The same applies to advisory locks on filesystems that do not
// honor them (notably NFS); no attempt is made to paper over that.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/wardend/wardend/shared/fdutil"
	"github.com/wardend/wardend/shared/limits"
	"github.com/wardend/wardend/shared/logger"
)

// DefaultPidDir is the well-known directory for pidfiles.
const DefaultPidDir = "/var/run"

// detachStageEnv carries the re-execution stage between the processes of
// the detachment sequence.
const detachStageEnv = "WARDEND_DETACH_STAGE"

var (
	// ErrAddressInUse is returned when another live process already holds
	// the pidfile lock for the requested name.
	ErrAddressInUse = errors.New("Daemon name already in use")

	// ErrNameTooLong is returned when the pidfile path would exceed the
	// system's path length limit.
	ErrNameTooLong = errors.New("Daemon name makes the pidfile path too long")

	// ErrAlreadyInitialised is returned by Init when the process daemon
	// context already exists.
	ErrAlreadyInitialised = errors.New("Daemon context already initialised")
)

// Config adjusts the daemonization procedure.
type Config struct {
	// PidDir overrides the pidfile directory. Empty means DefaultPidDir.
	PidDir string

	// ExtraStage enables the second re-execution stage so the surviving
	// process is not a session leader (SVR4 discipline). On modern Linux
	// it is a harmless extra hop.
	ExtraStage bool
}

// Context holds the pidfile state of a daemonized process.
type Context struct {
	cfg      Config
	mu       sync.Mutex
	lockPath string   // pidfile path, empty when no pidfile is installed
	lockFile *os.File // open descriptor holding the write lock
}

// Process-wide daemon context. Init refuses to run twice so the "one
// instance per process" property of the pidfile holds.
var (
	processMu  sync.Mutex
	processCtx *Context
)

var startedByInitOnce = sync.OnceValue(func() bool {
	return os.Getppid() == 1
})

// StartedByInit reports whether this process was started by init(8). If it
// was, detaching would be a mistake: there is no controlling terminal and
// init may be respawning us. The result is cached.
func StartedByInit() bool {
	return startedByInitOnce()
}

var startedByInetdOnce = sync.OnceValue(func() bool {
	_, err := unix.GetsockoptInt(int(os.Stdin.Fd()), unix.SOL_SOCKET, unix.SO_TYPE)
	return err == nil
})

// StartedByInetd reports whether this process was started by inetd(8),
// detected by standard input being a socket. If it was, descriptors 0, 1
// and 2 are the service socket and must stay open. The result is cached.
func StartedByInetd() bool {
	return startedByInetdOnce()
}

// PreventCore disables core file generation, closing a security hole in
// daemons run by root.
func PreventCore() error {
	var limit unix.Rlimit
	err := unix.Getrlimit(unix.RLIMIT_CORE, &limit)
	if err != nil {
		return fmt.Errorf("Failed to read core file limit: %w", err)
	}

	limit.Cur = 0

	err = unix.Setrlimit(unix.RLIMIT_CORE, &limit)
	if err != nil {
		return fmt.Errorf("Failed to clear core file limit: %w", err)
	}

	return nil
}

// RevokePrivileges drops effective user and group ids back to the real
// ones, including supplementary groups when running set-uid root.
func RevokePrivileges() error {
	uid := unix.Getuid()
	gid := unix.Getgid()
	euid := unix.Geteuid()
	egid := unix.Getegid()

	if euid == 0 && euid != uid {
		err := unix.Setgroups([]int{gid})
		if err != nil {
			return fmt.Errorf("Failed to reset supplementary groups: %w", err)
		}
	}

	if egid != gid {
		err := unix.Setregid(gid, gid)
		if err != nil {
			return fmt.Errorf("Failed to revoke group privileges: %w", err)
		}
	}

	if euid != uid {
		err := unix.Setreuid(uid, uid)
		if err != nil {
			return fmt.Errorf("Failed to revoke user privileges: %w", err)
		}
	}

	if unix.Geteuid() != unix.Getuid() || unix.Getegid() != unix.Getgid() {
		return errors.New("Privilege revocation did not take effect")
	}

	return nil
}

// FileIsSafe reports whether path and every directory above it are neither
// group nor world writable.
func FileIsSafe(path string) (bool, error) {
	if path == "" {
		return false, unix.EINVAL
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}

	if info.Mode().Perm()&0o022 != 0 {
		return false, nil
	}

	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		info, err := os.Stat(dir)
		if err != nil {
			return false, err
		}

		if info.Mode().Perm()&0o022 != 0 {
			return false, nil
		}

		if dir == filepath.Dir(dir) {
			break
		}
	}

	return true, nil
}

// NewContext returns a daemon context with the given configuration. Most
// programs use Init and the process-wide context instead; separate
// contexts exist so tests can point the pidfile at a scratch directory.
func NewContext(cfg Config) *Context {
	if cfg.PidDir == "" {
		cfg.PidDir = DefaultPidDir
	}

	return &Context{cfg: cfg}
}

// PidPath returns the pidfile path for the given daemon name.
func (c *Context) PidPath(name string) string {
	return filepath.Join(c.cfg.PidDir, name+".pid")
}

// InstallPidfile creates (or reuses) the pidfile for name, takes the
// exclusive advisory write lock on it and writes this process id followed
// by a newline. A live peer holding the lock surfaces as ErrAddressInUse.
//
// A failure between file creation and lock acquisition can leave an
// unlocked pidfile on disk; that is acceptable and the next invocation
// reclaims it.
func (c *Context) InstallPidfile(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.PidPath(name)
	if len(path)+1 > limits.PathMax() {
		return ErrNameTooLong
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("Failed to create pidfile %q: %w", path, err)
		}

		// The pidfile already exists. Is it locked? If so, another
		// invocation is still alive. If not, the invocation that created
		// it has died. Open it without truncating and attempt the lock.
		f, err = os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("Failed to open pidfile %q: %w", path, err)
		}
	}

	err = fdutil.TryWriteLock(int(f.Fd()))
	if err != nil {
		_ = f.Close()
		if fdutil.LockIsBusy(err) {
			return ErrAddressInUse
		}

		return fmt.Errorf("Failed to lock pidfile %q: %w", path, err)
	}

	// The previous holder (if any) is dead. Replace its pid with ours.
	err = f.Truncate(0)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("Failed to truncate pidfile %q: %w", path, err)
	}

	c.lockPath = path
	c.lockFile = f

	pid := strconv.Itoa(os.Getpid()) + "\n"
	n, err := f.WriteAt([]byte(pid), 0)
	if err != nil || n != len(pid) {
		// A short pidfile write is unrecoverable: release everything.
		c.closeLocked()
		if err == nil {
			err = fmt.Errorf("Short write of %d bytes", n)
		}

		return fmt.Errorf("Failed to write pidfile %q: %w", path, err)
	}

	return nil
}

// Close unlinks the pidfile (if any) and releases the lock by closing the
// descriptor. It always succeeds.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Context) closeLocked() {
	if c.lockPath != "" {
		_ = os.Remove(c.lockPath)
		c.lockPath = ""
	}

	if c.lockFile != nil {
		_ = c.lockFile.Close()
		c.lockFile = nil
	}
}

// detachStage returns the stage recorded in the environment, zero when the
// process has not re-executed yet.
func detachStage() int {
	stage, err := strconv.Atoi(os.Getenv(detachStageEnv))
	if err != nil {
		return 0
	}

	return stage
}

// reexec starts a copy of this binary at the given detachment stage with
// the given standard descriptors and exits the current process. It only
// returns on error.
func reexec(stage int, newSession bool, stdio []*os.File) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("Failed to locate executable: %w", err)
	}

	env := append(os.Environ(), fmt.Sprintf("%s=%d", detachStageEnv, stage))

	proc, err := os.StartProcess(exe, os.Args, &os.ProcAttr{
		Dir:   "/",
		Env:   env,
		Files: stdio,
		Sys:   &syscall.SysProcAttr{Setsid: newSession},
	})
	if err != nil {
		return fmt.Errorf("Failed to re-execute for detachment: %w", err)
	}

	_ = proc.Release()
	os.Exit(0)
	return nil // unreached
}

// detach performs the detachment sequence. The surviving process returns;
// every intermediate parent exits inside reexec.
func (c *Context) detach() error {
	// Started by init(8) or inetd(8) means there is no controlling
	// terminal to detach from, and exiting would confuse the spawner, so
	// the re-execution steps are skipped. Descriptor sanitization is
	// gated on inetd alone: under inetd descriptors 0, 1 and 2 are the
	// service socket and must stay open, but an init-started daemon
	// still gets /dev/null on them. A re-executed stage is never treated
	// as started by init or inetd, even once reparented to init.
	stage := detachStage()
	if stage == 0 && (StartedByInit() || StartedByInetd()) {
		if !StartedByInetd() {
			err := sanitizeStdio()
			if err != nil {
				return err
			}
		}

		umaskAndChdir()
		return nil
	}

	if stage == 0 {
		null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("Failed to open %s: %w", os.DevNull, err)
		}

		// First hop: new session, clean standard descriptors.
		return reexec(1, true, []*os.File{null, null, null})
	}

	if stage == 1 && c.cfg.ExtraStage {
		// Second hop: lose session leadership so a stray terminal open
		// cannot become our controlling terminal.
		return reexec(2, false, []*os.File{os.Stdin, os.Stdout, os.Stderr})
	}

	// The stage marker must not leak into supervised children.
	_ = os.Unsetenv(detachStageEnv)

	umaskAndChdir()
	return nil
}

// sanitizeStdio duplicates /dev/null onto descriptors 0, 1 and 2. Used on
// the paths that never re-execute, where the Files handoff cannot do it.
// Descriptors beyond the standard three are opened close-on-exec by the
// runtime and are left alone: closing them blindly would take the runtime's
// own descriptors down with them.
func sanitizeStdio() error {
	fd, err := unix.Open(os.DevNull, unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("Failed to open %s: %w", os.DevNull, err)
	}

	for std := 0; std <= 2; std++ {
		if fd == std {
			continue
		}

		err = unix.Dup2(fd, std)
		if err != nil {
			return fmt.Errorf("Failed to duplicate %s onto descriptor %d: %w", os.DevNull, std, err)
		}
	}

	if fd > 2 {
		_ = unix.Close(fd)
	}

	return nil
}

// umaskAndChdir applies the daemon process context that is wanted whether
// or not the process detached: the root directory as the working directory
// (so mounts are not hampered) and a cleared file creation mask.
func umaskAndChdir() {
	_ = os.Chdir("/")
	unix.Umask(0)
}

// Init converts the calling process into a daemon and, when name is
// non-empty, installs the locked pidfile enforcing the name's singleton.
// The intermediate processes of the detachment sequence exit inside Init;
// only the final daemon process returns. A second call fails with
// ErrAlreadyInitialised.
func Init(name string) error {
	return InitWithConfig(name, Config{})
}

// InitWithConfig is Init with explicit configuration.
func InitWithConfig(name string, cfg Config) error {
	processMu.Lock()
	defer processMu.Unlock()

	if processCtx != nil {
		return ErrAlreadyInitialised
	}

	ctx := NewContext(cfg)

	err := ctx.detach()
	if err != nil {
		return err
	}

	if name != "" {
		err = ctx.InstallPidfile(name)
		if err != nil {
			return err
		}

		logger.Debug("Installed pidfile", logger.Ctx{"path": ctx.PidPath(name)})
	}

	processCtx = ctx
	return nil
}

// Close releases the process daemon context: the pidfile is unlinked and
// its lock dropped. Safe to call at any time, including before Init.
func Close() {
	processMu.Lock()
	defer processMu.Unlock()

	if processCtx != nil {
		processCtx.Close()
		processCtx = nil
	}
}
