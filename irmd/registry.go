package irmd

import (
	"log/slog"

	ferrors "irmd-go/errors"
	"irmd-go/logging"
)

// BindProgram binds a program's argv to name so an inbound flow arrival
// with no waiting acceptor triggers auto-exec.
func (d *Daemon) BindProgram(name string, argv []string) error {
	if err := d.requireRunning(); err != nil {
		return err
	}
	if name == "" || len(argv) == 0 {
		return ferrors.New(ferrors.EINVAL, "bind_program", "name and argv are required")
	}

	d.regMu.Lock()
	defer d.regMu.Unlock()

	d.programs[name] = &ProgramEntry{Name: name, Argv: argv}

	entry, ok := d.registry[name]
	if !ok {
		entry = &RegistryEntry{Name: name, State: RegIdle}
		d.registry[name] = entry
	}
	if entry.State == RegIdle {
		entry.State = RegAutoAccept
		entry.ProgramArgv = argv
	}

	logging.WithName(d.logger, name).Debug("bind_program")
	return nil
}

// UnbindProgram removes name's program binding.
func (d *Daemon) UnbindProgram(name string) error {
	d.regMu.Lock()
	defer d.regMu.Unlock()

	if _, ok := d.programs[name]; !ok {
		return ferrors.ErrProgramNotBound
	}
	delete(d.programs, name)

	if entry, ok := d.registry[name]; ok && entry.State == RegAutoAccept {
		entry.State = RegIdle
		entry.ProgramArgv = nil
	}
	return nil
}

// BindProcess announces pid as a direct acceptor for name, used when an
// application registers itself ahead of time rather than relying on
// auto-exec.
func (d *Daemon) BindProcess(name string, pid int) error {
	if err := d.requireRunning(); err != nil {
		return err
	}

	d.regMu.Lock()
	defer d.regMu.Unlock()

	proc, ok := d.processes[pid]
	if !ok {
		return ferrors.ErrProcessNotAnnounced
	}
	proc.Names[name] = struct{}{}

	if _, ok := d.registry[name]; !ok {
		d.registry[name] = &RegistryEntry{Name: name, State: RegIdle}
	}
	return nil
}

// UnbindProcess removes pid as an acceptor for name.
func (d *Daemon) UnbindProcess(name string, pid int) error {
	d.regMu.Lock()
	defer d.regMu.Unlock()

	proc, ok := d.processes[pid]
	if !ok {
		return ferrors.ErrProcessNotAnnounced
	}
	if _, ok := proc.Names[name]; !ok {
		return ferrors.ErrProgramNotBound
	}
	delete(proc.Names, name)
	return nil
}

// ProcAnnounce registers pid as a live process, inheriting any names
// already bound to programTag.
func (d *Daemon) ProcAnnounce(pid int, programTag string) error {
	if err := d.requireRunning(); err != nil {
		return err
	}

	d.regMu.Lock()
	defer d.regMu.Unlock()

	proc := &ProcessEntry{PID: pid, ProgramTag: programTag, Names: make(map[string]struct{})}
	for name, p := range d.programs {
		if p.Name == programTag {
			proc.Names[name] = struct{}{}
		}
	}
	d.processes[pid] = proc

	logging.WithPID(d.logger, pid).Debug("proc_announce", slog.String("program_tag", programTag))
	return nil
}

// Reg records name's registration in IRMd: it computes the directory
// hash, maps the hash back to name, and stores layerGlobs on name's
// registry entry. It does not forward the registration to the matching
// IPCPs. It fails with ErrNoIPCPMatched if no live IPCP's layer matches
// one of layerGlobs.
func (d *Daemon) Reg(name string, layerGlobs []string) error {
	if err := d.requireRunning(); err != nil {
		return err
	}

	d.regMu.Lock()
	defer d.regMu.Unlock()

	matched := false
	for _, ipcp := range d.ipcps {
		if ipcp.Lifecycle != IPCPLive || ipcp.Layer == "" {
			continue
		}
		for _, glob := range layerGlobs {
			if layerMatches(glob, ipcp.Layer) {
				matched = true
				break
			}
		}
	}
	if !matched {
		return ferrors.ErrNoIPCPMatched
	}

	hash, err := d.dir.Hash(name)
	if err != nil {
		return err
	}
	d.hashToName[hash.String()] = name

	entry, ok := d.registry[name]
	if !ok {
		entry = &RegistryEntry{Name: name, State: RegIdle}
		d.registry[name] = entry
	}
	entry.LayerGlobs = layerGlobs
	return nil
}

// Unreg removes name's registration from every layer at once; it takes
// no layer globs.
func (d *Daemon) Unreg(name string) error {
	d.regMu.Lock()
	defer d.regMu.Unlock()

	entry, ok := d.registry[name]
	if !ok {
		return ferrors.ErrNameNotFound
	}
	entry.State = RegDestroyed
	delete(d.registry, name)
	if hash, err := d.dir.Hash(name); err == nil {
		delete(d.hashToName, hash.String())
	}
	d.dir.Forget(name)
	return nil
}

// nameByHash resolves a directory hash back to its registry name, used by
// ipcp_flow_req_arr which is handed a hash rather than a name (the IPCP
// only ever sees hashes, per spec.md's "IPCPs index by hash").
func (d *Daemon) nameByHash(hash string) (string, bool) {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	name, ok := d.hashToName[hash]
	return name, ok
}

// layerMatches reports whether glob matches layer. Only "*" (match-all)
// and exact names are supported, matching the simple layer-glob surface
// spec.md describes without committing to a full glob grammar.
func layerMatches(glob, layer string) bool {
	return glob == "*" || glob == layer
}

// ListIPCPs returns the pids of every IPCP whose Name matches glob; an
// empty glob matches every IPCP.
func (d *Daemon) ListIPCPs(glob string) []int {
	d.regMu.Lock()
	defer d.regMu.Unlock()

	var pids []int
	for pid, ipcp := range d.ipcps {
		if glob == "" || layerMatches(glob, ipcp.Name) {
			pids = append(pids, pid)
		}
	}
	return pids
}
