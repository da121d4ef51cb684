// Package sysexits holds the process exit statuses shared by the binaries.
// Values follow sysexits.h.
package sysexits

const (
	OK       = 0
	Usage    = 64 // command line usage error
	NoInput  = 66 // cannot open input
	NoUser   = 67 // addressee unknown
	Software = 70 // internal software error
	NoPerm   = 77 // permission denied
	Config   = 78 // configuration error
)
