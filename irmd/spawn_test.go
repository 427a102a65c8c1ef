package irmd

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	ferrors "irmd-go/errors"
)

// writeFakeIPCPD writes a shell script standing in for ipcpd: it reports
// ready over fd 3 (the sync pipe's child end, inherited via ExtraFiles) by
// writing a single zero byte, or an error message for a non-zero byte, or
// not writing at all to simulate a hang.
func writeFakeIPCPD(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ipcpd.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCreateIPCP_ReadySignalRegistersEntry(t *testing.T) {
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	d := newTestDaemon(t)
	d.socketTimeout = time.Second

	script := writeFakeIPCPD(t, "printf '\\0' >&3\nexit 0\n")

	pid, err := d.CreateIPCP("loop0", IPCPLocal, script)
	if err != nil {
		t.Fatalf("CreateIPCP() error = %v", err)
	}
	if pid <= 0 {
		t.Fatalf("expected positive pid, got %d", pid)
	}

	d.regMu.Lock()
	entry, ok := d.ipcps[pid]
	d.regMu.Unlock()
	if !ok || entry.Lifecycle != IPCPLive {
		t.Errorf("expected live ipcp entry, got %+v (ok=%v)", entry, ok)
	}
}

func TestCreateIPCP_NameCollisionFails(t *testing.T) {
	d := newTestDaemon(t)
	d.regMu.Lock()
	d.ipcps[1] = &IPCPEntry{PID: 1, Name: "dup"}
	d.regMu.Unlock()

	_, err := d.CreateIPCP("dup", IPCPLocal, "/bin/true")
	if !ferrors.Is(err, ferrors.ErrNameCollision) {
		t.Errorf("expected ErrNameCollision, got %v", err)
	}
}

func TestCreateIPCP_BootTimeoutKillsChild(t *testing.T) {
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	d := newTestDaemon(t)
	d.socketTimeout = 50 * time.Millisecond

	script := writeFakeIPCPD(t, "sleep 5\n")

	_, err := d.CreateIPCP("slow0", IPCPLocal, script)
	if !ferrors.IsKind(err, ferrors.ETIMEDOUT) {
		t.Errorf("expected ETIMEDOUT, got %v", err)
	}
}

func TestCreateIPCP_ChildErrorPropagates(t *testing.T) {
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	d := newTestDaemon(t)
	d.socketTimeout = time.Second

	script := writeFakeIPCPD(t, "printf 'boom' >&3\nexit 1\n")

	_, err := d.CreateIPCP("broken0", IPCPLocal, script)
	if err == nil {
		t.Fatal("expected CreateIPCP to fail when child reports an error")
	}
}

func TestDestroyIPCP_UnknownPIDFails(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.DestroyIPCP(999999); !ferrors.Is(err, ferrors.ErrIPCPNotFound) {
		t.Errorf("expected ErrIPCPNotFound, got %v", err)
	}
}

func TestDestroyIPCP_TerminatesProcess(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Skipf("could not start throwaway process: %v", err)
	}
	pid := cmd.Process.Pid

	d := newTestDaemon(t)
	d.socketTimeout = time.Second
	d.regMu.Lock()
	d.ipcps[pid] = &IPCPEntry{PID: pid, Name: "victim", Lifecycle: IPCPLive}
	d.regMu.Unlock()

	if err := d.DestroyIPCP(pid); err != nil {
		t.Fatalf("DestroyIPCP() error = %v", err)
	}

	d.regMu.Lock()
	_, stillThere := d.ipcps[pid]
	d.regMu.Unlock()
	if stillThere {
		t.Error("expected ipcp entry removed after destroy")
	}
}

func TestEnrollCaller_SecondEnrollFails(t *testing.T) {
	d := newTestDaemon(t)
	d.regMu.Lock()
	d.ipcps[1] = &IPCPEntry{PID: 1}
	d.regMu.Unlock()

	noop := func() error { return nil }
	if err := d.EnrollCaller(1, "layerX", noop); err != nil {
		t.Fatalf("first EnrollCaller() error = %v", err)
	}
	if err := d.EnrollCaller(1, "layerX", noop); !ferrors.Is(err, ferrors.ErrAlreadyEnrolled) {
		t.Errorf("expected ErrAlreadyEnrolled, got %v", err)
	}
}

func TestBootstrapCaller_RecordsLayerAndHashAlgo(t *testing.T) {
	d := newTestDaemon(t)
	d.regMu.Lock()
	d.ipcps[1] = &IPCPEntry{PID: 1}
	d.regMu.Unlock()

	err := d.BootstrapCaller(1, "layerX", "blake2b-256", func() error { return nil })
	if err != nil {
		t.Fatalf("BootstrapCaller() error = %v", err)
	}

	d.regMu.Lock()
	entry := d.ipcps[1]
	d.regMu.Unlock()
	if entry.Layer != "layerX" || entry.HashAlgo != "blake2b-256" {
		t.Errorf("expected layer/hash recorded, got %+v", entry)
	}
}
