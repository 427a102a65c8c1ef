package irmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	ferrors "irmd-go/errors"
	"irmd-go/logging"
	"irmd-go/utils"
)

// IPCPSockDir is the directory under which per-IPCP control sockets are
// created, named ipcp_sock_path(pid) in the source.
var IPCPSockDir = "/run/irmd-go"

// IPCPSockPath returns the well-known control-socket path for pid.
func IPCPSockPath(pid int) string {
	return filepath.Join(IPCPSockDir, fmt.Sprintf("ipcp.%d.sock", pid))
}

// CreateIPCP forks+execs the ipcpd binary for the given type, then waits
// up to SocketTimeout for the child to report ready over its sync pipe
// (standing in for the C original's pipe-then-socket handshake, kept
// lightweight because the control socket itself isn't guaranteed bound
// the instant the process starts). Timing out kills the child.
func (d *Daemon) CreateIPCP(name string, ipcpType IPCPType, ipcpdPath string) (int, error) {
	if err := d.requireRunning(); err != nil {
		return 0, err
	}

	d.regMu.Lock()
	for _, existing := range d.ipcps {
		if existing.Name == name {
			d.regMu.Unlock()
			return 0, ferrors.ErrNameCollision
		}
	}
	d.regMu.Unlock()

	pipe, err := utils.NewSyncPipe()
	if err != nil {
		return 0, ferrors.Wrap(err, ferrors.EAGAIN, "create_ipcp")
	}
	defer pipe.CloseParent()

	cmd := exec.Command(ipcpdPath, "--type", ipcpType.String(), "--name", name)
	cmd.ExtraFiles = []*os.File{pipe.ChildFile()}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		pipe.CloseChild()
		return 0, ferrors.Wrap(err, ferrors.EAGAIN, "create_ipcp")
	}
	pipe.CloseChild()

	pid := cmd.Process.Pid

	ready := make(chan error, 1)
	go func() { ready <- pipe.WaitWithError() }()

	select {
	case err := <-ready:
		if err != nil {
			_ = cmd.Process.Kill()
			return 0, ferrors.WrapObject(err, ferrors.EAGAIN, "create_ipcp", name)
		}
	case <-time.After(d.socketTimeout):
		_ = cmd.Process.Kill()
		return 0, ferrors.ErrIPCPBootTimeout
	}

	entry := &IPCPEntry{
		PID:       pid,
		Name:      name,
		Type:      ipcpType,
		Lifecycle: IPCPLive,
		SockPath:  IPCPSockPath(pid),
	}

	d.regMu.Lock()
	d.ipcps[pid] = entry
	d.regMu.Unlock()

	logging.WithIPCP(d.logger, pid).Info("create_ipcp", "name", name, "type", ipcpType.String())
	return pid, nil
}

// DestroyIPCP sends SIGTERM to pid, waits briefly, then reaps and removes
// its entry.
func (d *Daemon) DestroyIPCP(pid int) error {
	d.regMu.Lock()
	entry, ok := d.ipcps[pid]
	if !ok {
		d.regMu.Unlock()
		return ferrors.ErrIPCPNotFound
	}
	delete(d.ipcps, pid)
	d.regMu.Unlock()

	proc, err := os.FindProcess(pid)
	if err == nil {
		_ = proc.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() {
			proc.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(d.socketTimeout):
			_ = proc.Kill()
		}
	}

	entry.Lifecycle = IPCPDead
	logging.WithIPCP(d.logger, pid).Info("destroy_ipcp")
	return nil
}

// BootstrapCaller forwards bootstrap to the IPCP identified by pid via
// callFn (an RPC over its control socket), recording layer_name and hash
// algo on success.
func (d *Daemon) BootstrapCaller(pid int, layerName, hashAlgo string, callFn func() error) error {
	d.regMu.Lock()
	entry, ok := d.ipcps[pid]
	d.regMu.Unlock()
	if !ok {
		return ferrors.ErrIPCPNotFound
	}

	if err := callFn(); err != nil {
		return ferrors.WrapObject(err, ferrors.EIPCP, "bootstrap_ipcp", fmt.Sprintf("pid %d", pid))
	}

	d.regMu.Lock()
	entry.Layer = layerName
	entry.HashAlgo = hashAlgo
	d.regMu.Unlock()
	return nil
}

// EnrollCaller forwards enroll to pid via callFn, recording the resulting
// layer name once. A second enroll attempt fails with ErrAlreadyEnrolled.
func (d *Daemon) EnrollCaller(pid int, dstLayer string, callFn func() error) error {
	d.regMu.Lock()
	entry, ok := d.ipcps[pid]
	if !ok {
		d.regMu.Unlock()
		return ferrors.ErrIPCPNotFound
	}
	if entry.Layer != "" {
		d.regMu.Unlock()
		return ferrors.ErrAlreadyEnrolled
	}
	d.regMu.Unlock()

	if err := callFn(); err != nil {
		return ferrors.WrapObject(err, ferrors.EIPCP, "enroll_ipcp", fmt.Sprintf("pid %d", pid))
	}

	d.regMu.Lock()
	entry.Layer = dstLayer
	d.regMu.Unlock()
	return nil
}

// spawnProgram forks+execs argv and returns its pid without waiting for
// the child to proc_announce, implementing the "on-demand execution"
// half of ipcp_flow_req_arr's auto-accept path: IRMd forks the bound
// program and posts the arrival; the child is expected to proc_announce
// and flow_accept shortly after.
func (d *Daemon) spawnProgram(argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, ferrors.New(ferrors.EINVAL, "ipcp_flow_req_arr", "program has no argv")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return 0, ferrors.Wrap(err, ferrors.EAGAIN, "ipcp_flow_req_arr")
	}

	go cmd.Wait() // reap in the background; the sanitiser only needs the pid

	logging.WithPID(d.logger, cmd.Process.Pid).Info("ipcp_flow_req_arr auto-exec", "argv", argv)
	return cmd.Process.Pid, nil
}

// ReportIPCPCreate is called by the control loop when it receives an
// ipcp_create_r from a newly-spawned IPCP; CreateIPCP's blocking wait
// above uses the sync pipe rather than this path, but the control
// socket's ipcp_create_r op is kept for parity with spec.md's operation
// table and for IPCPs that re-announce after a restart.
func (d *Daemon) ReportIPCPCreate(pid, result int) error {
	d.regMu.Lock()
	defer d.regMu.Unlock()

	entry, ok := d.ipcps[pid]
	if !ok {
		return ferrors.ErrIPCPNotFound
	}
	if result == 0 {
		entry.Lifecycle = IPCPLive
	} else {
		entry.Lifecycle = IPCPDead
	}
	return nil
}
