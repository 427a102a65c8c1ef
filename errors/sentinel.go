// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Registry and naming errors.
var (
	// ErrNameCollision indicates an IPCP or name already occupies the slot requested.
	ErrNameCollision = &FabricError{
		Kind:   EINVAL,
		Detail: "name already registered",
	}

	// ErrNameNotFound indicates no registry entry exists for the name.
	ErrNameNotFound = &FabricError{
		Kind:   EINVAL,
		Detail: "name not found",
	}

	// ErrNoIPCPMatched indicates reg/unreg matched no IPCP's layer glob.
	ErrNoIPCPMatched = &FabricError{
		Kind:   EINVAL,
		Detail: "no ipcp matched the requested layer",
	}

	// ErrNoProcesses indicates a flow arrival found no acceptor and no
	// auto-accept program bound to the name.
	ErrNoProcesses = &FabricError{
		Kind:   EAGAIN,
		Detail: "no processes bound to name",
	}
)

// IPCP lifecycle errors.
var (
	// ErrIPCPNotFound indicates no IPCP entry exists for the pid.
	ErrIPCPNotFound = &FabricError{
		Kind:   EINVAL,
		Detail: "ipcp not found",
	}

	// ErrIPCPSpawnFailed indicates fork+exec of the IPCP binary failed.
	ErrIPCPSpawnFailed = &FabricError{
		Kind:   EAGAIN,
		Detail: "failed to spawn ipcp",
	}

	// ErrIPCPBootTimeout indicates the spawned IPCP never reported ipcp_create_r.
	ErrIPCPBootTimeout = &FabricError{
		Kind:   ETIMEDOUT,
		Detail: "ipcp did not report ready in time",
	}

	// ErrIPCPTypeMismatch indicates bootstrap/enroll targeted the wrong IPCP type.
	ErrIPCPTypeMismatch = &FabricError{
		Kind:   EIPCP,
		Detail: "operation not valid for this ipcp type",
	}

	// ErrAlreadyEnrolled indicates enroll_ipcp was called twice.
	ErrAlreadyEnrolled = &FabricError{
		Kind:   EINVAL,
		Detail: "ipcp already enrolled",
	}
)

// Flow allocation errors.
var (
	// ErrPortExhausted indicates the process-wide port-id bitmap is full.
	ErrPortExhausted = &FabricError{
		Kind:   ENOMEM,
		Detail: "no free port ids",
	}

	// ErrFlowNotFound indicates no IRM flow exists for the port id.
	ErrFlowNotFound = &FabricError{
		Kind:   EINVAL,
		Detail: "flow not found",
	}

	// ErrFlowNotOwned indicates the caller's pid doesn't match either
	// endpoint recorded on the flow.
	ErrFlowNotOwned = &FabricError{
		Kind:   EPERM,
		Detail: "caller does not hold this port id",
	}

	// ErrFlowAllocTimeout indicates flow_alloc's deadline passed before
	// the flow reached allocated.
	ErrFlowAllocTimeout = &FabricError{
		Kind:   ETIMEDOUT,
		Detail: "flow allocation timed out",
	}

	// ErrFlowAcceptTimeout indicates flow_accept's deadline passed with no arrival.
	ErrFlowAcceptTimeout = &FabricError{
		Kind:   ETIMEDOUT,
		Detail: "flow accept timed out",
	}

	// ErrPeerDied indicates the counterpart died while the caller waited.
	ErrPeerDied = &FabricError{
		Kind:   EPIPE,
		Detail: "peer process died",
	}

	// ErrShuttingDown indicates IRMd is tearing down and interrupted the wait.
	ErrShuttingDown = &FabricError{
		Kind:   EIRMD,
		Detail: "irmd is shutting down",
	}
)

// Program/process binding errors.
var (
	// ErrProgramNotBound indicates unbind_program targeted a name with no
	// such binding.
	ErrProgramNotBound = &FabricError{
		Kind:   EINVAL,
		Detail: "program not bound to name",
	}

	// ErrProcessNotAnnounced indicates flow_accept/bind_process referenced
	// a pid that never called proc_announce.
	ErrProcessNotAnnounced = &FabricError{
		Kind:   EINVAL,
		Detail: "process has not announced itself",
	}
)

// Control-socket and resource errors.
var (
	// ErrLockHeld indicates another live IRMd already holds the lockfile.
	ErrLockHeld = &FabricError{
		Kind:   EBUSY,
		Detail: "another irmd instance is running",
	}

	// ErrSocketTimeout indicates a control-socket RPC exceeded SOCKET_TIMEOUT.
	ErrSocketTimeout = &FabricError{
		Kind:   ETIMEDOUT,
		Detail: "control socket rpc timed out",
	}

	// ErrBufferPoolFull indicates the shared buffer pool has no free slabs.
	ErrBufferPoolFull = &FabricError{
		Kind:   ENOMEM,
		Detail: "buffer pool exhausted",
	}
)
