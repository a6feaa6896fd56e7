// cncrouterd is the CNC router control daemon: it loads configuration,
// wires the motion link, spindle shim, and peripheral sinks into a
// Machine Controller, and serves the operator HTTP/websocket surface.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/benchcnc/cncrouter/broadcast"
	"github.com/benchcnc/cncrouter/comm"
	"github.com/benchcnc/cncrouter/config"
	"github.com/benchcnc/cncrouter/filestore"
	"github.com/benchcnc/cncrouter/grbl"
	"github.com/benchcnc/cncrouter/httpapi"
	"github.com/benchcnc/cncrouter/machine"
	"github.com/benchcnc/cncrouter/spindle"
	"github.com/benchcnc/cncrouter/toolstore"
	"github.com/tarm/serial"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// ConfigFileName is the YAML file cncrouterd looks for in its working
// directory, mirroring cmd/multiserver's convention.
const ConfigFileName = "cncrouterd.yml"

func root() {
	fmt.Println(`cncrouterd drives a GRBL-class motion controller and a
VFD/DAC spindle shim, and exposes job control over HTTP.

Usage:
	cncrouterd <command>

Commands:
	run      start the daemon
	mkconf   write the default configuration to ` + ConfigFileName + `
	conf     print the active configuration
	probe    send one command to the motion controller and print the reply
	version`)
}

func mkconf() {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := yml.NewEncoder(f).Encode(config.Default()); err != nil {
		log.Fatal(err)
	}
}

func printconf(c config.Config) {
	if err := yml.NewEncoder(os.Stdout).Encode(c); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("cncrouterd version %s\n", Version)
}

// connectLink dials the motion controller with a terminal spinner,
// retrying internally per grbl.Link.Connect's own backoff policy.
func connectLink(link *grbl.Link) error {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[9],
		Suffix:          " connecting to motion controller",
		SuffixAutoColon: true,
		Message:         "dialing",
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
		StopFailMessage: "failed",
		StopFailColors:  []string{"fgRed"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		// a terminal that cannot host a spinner (e.g. piped output)
		// is not fatal, just connect silently
		return link.Connect()
	}
	spinner.Start()
	if err := link.Connect(); err != nil {
		spinner.StopFail()
		return err
	}
	spinner.Stop()
	return nil
}

// statusColor highlights an alarm or stop condition in the daemon's own
// log stream, the way an operator scanning scroll-back would want.
func statusColor(s machine.Status) string {
	switch s {
	case machine.StatusAlarm:
		return color.RedString(string(s))
	case machine.StatusStopped:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func run(c config.Config) {
	logger := log.New(os.Stdout, "cncrouterd: ", log.LstdFlags)

	var link *grbl.Link
	if !c.Simulation {
		link = grbl.New(c.GrblPort, c.GrblBaud)
		if err := connectLink(link); err != nil {
			logger.Printf("could not connect to motion controller, continuing in simulation: %v", err)
		}
	}

	vfd := spindle.VFDSink(spindle.NoopVFD{})
	vacuum := spindle.VacuumSink(spindle.NoopVacuum{})
	if !c.Simulation {
		logger.Printf("hardware sinks not implemented for this platform; running with no-op VFD/vacuum (pins %+v, dac %+v)", c.Pins, c.DAC)
	}
	shim := spindle.NewShim(vfd, c.Spindle, c.DAC.Vref)

	files, err := filestore.New(c.ContentDir)
	if err != nil {
		logger.Fatalf("could not open content directory: %v", err)
	}
	tools := toolstore.New()

	var ctl *machine.Controller
	if c.Simulation {
		ctl = machine.New(nil, shim, vacuum, files, tools, logger)
	} else {
		ctl = machine.New(link, shim, vacuum, files, tools, logger)
		link.OnStatus = ctl.IngestStatus
	}

	bc := broadcast.New(ctl, logger)
	bc.Start()
	defer bc.Stop()

	api := httpapi.New(ctl, files, tools, bc)

	logger.Printf("listening at %s (simulation=%v)", c.ListenAddr, c.Simulation)
	logger.Printf("initial status: %s", statusColor(ctl.Snapshot().Status))
	logger.Fatal(http.ListenAndServe(c.ListenAddr, api.Mux))
}

func probe(port string, baud int, command string) {
	rd := comm.NewRemoteDevice(port, true, nil, &serial.Config{Name: port, Baud: baud, ReadTimeout: time.Second})
	reply, err := rd.OpenSendRecvClose([]byte(command))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(strings.TrimSpace(string(reply)))
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}

	cmd := strings.ToLower(args[1])
	if cmd == "mkconf" {
		mkconf()
		return
	}

	c, err := config.Load(ConfigFileName)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	switch cmd {
	case "conf":
		printconf(c)
	case "run":
		run(c)
	case "probe":
		if len(args) < 3 {
			log.Fatal("usage: cncrouterd probe <command>")
		}
		probe(c.GrblPort, c.GrblBaud, args[2])
	case "version":
		pversion()
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}
