package lifecycle

import (
	"errors"
	"strings"

	"github.com/kingphisher/kingphisher/internal/sysexits"
)

// Process exit statuses.
const (
	ExitOK       = sysexits.OK
	ExitUsage    = sysexits.Usage
	ExitNoInput  = sysexits.NoInput
	ExitNoUser   = sysexits.NoUser
	ExitSoftware = sysexits.Software
	ExitNoPerm   = sysexits.NoPerm
	ExitConfig   = sysexits.Config
)

// Kind classifies a fatal startup error.
type Kind int

const (
	// KindSoftware is an internal failure with no more specific class.
	KindSoftware Kind = iota
	// KindUsage is a bad command line, such as a missing config file.
	KindUsage
	// KindDependency is a missing or incompatible third-party requirement.
	KindDependency
	// KindPrivilege is a missing or failed privilege operation.
	KindPrivilege
	// KindConfigSchema means the verification schema could not be found.
	KindConfigSchema
	// KindConfigValidation means the configuration has missing or
	// incompatible options.
	KindConfigValidation
	// KindServiceConstruction is a failure building the service.
	KindServiceConstruction
	// KindUnknownDropUser means server.setuid_username does not exist.
	KindUnknownDropUser
	// KindStorageAccess means the local database directory is not writable.
	KindStorageAccess
)

var kindNames = map[Kind]string{
	KindSoftware:            "SoftwareError",
	KindUsage:               "UsageError",
	KindDependency:          "DependencyError",
	KindPrivilege:           "PrivilegeError",
	KindConfigSchema:        "ConfigSchemaError",
	KindConfigValidation:    "ConfigValidationError",
	KindServiceConstruction: "ServiceConstructionError",
	KindUnknownDropUser:     "UnknownDropUserError",
	KindStorageAccess:       "StorageAccessError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UnknownError"
}

// ExitStatus returns the process exit status for errors of this kind.
func (k Kind) ExitStatus() int {
	switch k {
	case KindUsage:
		return ExitUsage
	case KindPrivilege, KindStorageAccess:
		return ExitNoPerm
	case KindConfigSchema:
		return ExitNoInput
	case KindConfigValidation:
		return ExitConfig
	case KindUnknownDropUser:
		return ExitNoUser
	default:
		return ExitSoftware
	}
}

// Error is a fatal startup error. Its diagnostic has already been printed
// to the console by the time the caller receives it.
type Error struct {
	Kind    Kind
	Message string
	// Details are itemized diagnostic lines printed after Message.
	Details []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExitStatus converts the result of a run to a process exit status: nil is
// success, an *Error maps through its Kind, anything else is a software
// error.
func ExitStatus(err error) int {
	if err == nil {
		return ExitOK
	}
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind.ExitStatus()
	}
	return ExitSoftware
}
