package lifecycle

// State is a step of the startup sequence.
type State int

const (
	StateStartLogging State = iota
	StateCheckPrivilegedUser
	StateLoadConfig
	StateResolveDataPaths
	StateVerifyConfig
	StateVerifyOnlyExit
	StateConfigureLogging
	StateDecideFork
	StateParentExit
	StateContinueAsChild
	StateConstructService
	StateWritePidFile
	StateDropPrivileges
	StateCheckStorageAccess
	StateInstallSignalHandler
	StateServeForever
	StateShutdown
	StateTerminate
	StateAbort
)

var stateNames = [...]string{
	StateStartLogging:         "StartLogging",
	StateCheckPrivilegedUser:  "CheckPrivilegedUser",
	StateLoadConfig:           "LoadConfig",
	StateResolveDataPaths:     "ResolveDataPaths",
	StateVerifyConfig:         "VerifyConfig",
	StateVerifyOnlyExit:       "VerifyOnlyExit",
	StateConfigureLogging:     "ConfigureLogging",
	StateDecideFork:           "DecideFork",
	StateParentExit:           "ParentExit",
	StateContinueAsChild:      "ContinueAsChild",
	StateConstructService:     "ConstructService",
	StateWritePidFile:         "WritePidFile",
	StateDropPrivileges:       "DropPrivileges",
	StateCheckStorageAccess:   "CheckStorageAccess",
	StateInstallSignalHandler: "InstallSignalHandler",
	StateServeForever:         "ServeForever",
	StateShutdown:             "Shutdown",
	StateTerminate:            "Terminate",
	StateAbort:                "Abort",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}
