package oscsim

import (
	"log"
	"os"
	"time"
)

// Portnumbers structs can contain all TCP port numbers used by the server.
type Portnumbers struct {
	RPC    int
	Status int
	Frames int
}

// Ports globally holds all TCP port numbers used by the server.
var Ports Portnumbers

// BindAddr is the interface address the listeners bind to. Empty means all
// interfaces.
var BindAddr string

// zmqBindHost spells BindAddr the way ZMQ bind endpoints expect, where all
// interfaces is "*".
func zmqBindHost() string {
	if BindAddr == "" {
		return "*"
	}
	return BindAddr
}

// SetPortnumbers assigns the RPC, status, and frames ports from one base.
func SetPortnumbers(base int) {
	Ports.RPC = base
	Ports.Status = base + 1
	Ports.Frames = base + 2
}

// BuildInfo can contain compile-time information about the build.
type BuildInfo struct {
	Version string
	Githash string
	Date    string
	Host    string
	Summary string
}

// Build is a global holding compile-time information about the build.
var Build = BuildInfo{
	Version: "0.1.0",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run.
var StartTime time.Time

// ProblemLogger will log warning messages to a file.
var ProblemLogger *log.Logger

// UpdateLogger will log client updates to a file.
var UpdateLogger *log.Logger

func init() {
	SetPortnumbers(5600)
	StartTime = time.Now()

	// The main program will override these, but at least initialize them
	// with a sensible value.
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
	UpdateLogger = log.New(os.Stderr, "", log.LstdFlags)
}
