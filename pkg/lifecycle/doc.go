// Package lifecycle sequences the privileged startup and orderly shutdown of
// the King Phisher server.
//
// A run walks these states in order, stopping at the first failure:
//
//	StartLogging -> CheckPrivilegedUser -> LoadConfig -> ResolveDataPaths ->
//	VerifyConfig -> [VerifyOnlyExit] -> ConfigureLogging -> DecideFork ->
//	(ParentExit | ContinueAsChild) -> ConstructService -> WritePidFile ->
//	DropPrivileges -> CheckStorageAccess -> InstallSignalHandler ->
//	ServeForever -> Shutdown -> Terminate
//
// Failures after ConstructService shut the service down before returning.
// Every failure is printed to the console as a "[-]" line and returned as an
// *Error; ExitStatus maps it to the process exit status.
package lifecycle
