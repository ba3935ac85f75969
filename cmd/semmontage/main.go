package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/cmss-ltu/semontage/generichttp"
	"github.com/cmss-ltu/semontage/generichttp/locker"
	"github.com/cmss-ltu/semontage/imgrec"
	"github.com/cmss-ltu/semontage/montage"
	"github.com/cmss-ltu/semontage/montagehttp"
	"github.com/cmss-ltu/semontage/sem"
	"github.com/cmss-ltu/semontage/su7000"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "semmontage.yml"
	k              = koanf.New(".")
)

// Instrument holds the connection parameters for the microscope.
type Instrument struct {
	// Addr is the network or filesystem address of the external-control
	// port, e.g. 192.168.100.12:2010 or /dev/ttyS4
	Addr string `yaml:"Addr"`

	// Serial determines if the connection is serial/RS232 (true) or TCP
	Serial bool `yaml:"Serial"`

	// Mock replaces the physical instrument with the deterministic mock;
	// useful for dry runs of a montage plan
	Mock bool `yaml:"Mock"`
}

// Config is the full configuration for the program.
type Config struct {
	// Addr is the address to listen at in serve mode
	Addr string `yaml:"Addr"`

	Instrument Instrument `yaml:"Instrument"`

	// Root is the folder tile images are written to
	Root string `yaml:"Root"`

	// Montage is the acquisition request executed by run, and the
	// default request template in serve mode
	Montage montage.Request `yaml:"Montage"`
}

func defaults() Config {
	return Config{
		Addr: ":8000",
		Instrument: Instrument{
			Addr: "192.168.100.12:2010",
			Mock: true,
		},
		Root: ".",
		Montage: montage.Request{
			Width:            1000000,
			Height:           1000000,
			Overlap:          0.2,
			AutoFocus:        true,
			FocusThreshold:   100,
			MaxFocusAttempts: 5,
			FocusMag:         5000,
			Exposure:         sem.ExposureOff,
			Detectors:        montage.DetectorAll,
			BaseFilename:     "montage",
		},
	}
}

func setupconfig() {
	k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `semmontage automates large-area SEM acquisition: it plans a tile grid over
the requested area, drives the stage along a boustrophedon path, focuses and
captures each tile, and writes the tiles as FITS files for external
stitching.

Usage:
	semmontage <command>

Commands:
	run
	serve
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `semmontage is amenable to configuration via its .yml file.  For a primer on
YAML, see https://yaml.org/start.html

Units are nanometres unless noted.  The Montage block mirrors the request
accepted on the HTTP run route in serve mode:

  width, height    requested area
  overlap          overlap fraction between adjacent tiles, [0, 1)
  start            bottom-left anchor; omit to use the current position
  mag              survey magnification; omit to use the current one
  exposure         exposure correction: 0 off, 1 single detector, 2 all
  autoFocus        enable per-tile autofocus with bounded retries
  focusThreshold   acceptable working distance shift, micrometres
  maxFocusAttempts retry cap per tile, >= 1
  focusMag         dedicated autofocus magnification, 0 to disable
  astigmatism      enable per-tile astigmatism correction
  detectors        capture: 0 active detector only, 1 all detectors
  baseFilename     output name prefix
  shutdown         turn the electron source off after a complete session
  strictFocus      abort the session when a tile exhausts focus retries
  strictWrite      abort the session on a file write failure

With Instrument.Mock true, run executes the full plan against a simulated
instrument and writes synthetic tiles, which is handy for verifying grid
geometry and filenames before burning beam time.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("semmontage version %v\n", Version)
}

func driver(c Config) sem.Controller {
	if c.Instrument.Mock {
		return sem.NewMock()
	}
	return su7000.NewController(c.Instrument.Addr, c.Instrument.Serial)
}

func run() {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	drv := driver(c)
	rec := &imgrec.Recorder{Root: c.Root, Base: c.Montage.BaseFilename}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[14],
		Suffix:          " montage",
		SuffixAutoColon: true,
		Message:         "starting",
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	})
	if err != nil {
		log.Fatal(err)
	}

	s := &montage.Session{
		Drv: drv,
		Rec: rec,
		Req: c.Montage,
		OnTile: func(done, total int, res montage.TileResult) {
			spinner.Message(fmt.Sprintf("tile %d/%d %s", done, total, res.Status))
		},
	}

	// ^C finishes the current tile, restores the stage, and exits cleanly
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	spinner.Start()
	sum, err := s.Run(ctx)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
	} else {
		spinner.StopMessage(fmt.Sprintf("%d tiles", sum.Attempted))
		spinner.Stop()
	}

	captured, flagged := 0, 0
	for _, t := range sum.Tiles {
		if t.Status == montage.TileCaptured {
			captured++
		} else {
			flagged++
		}
	}
	log.Printf("grid %dx%d, %d tiles attempted, %d captured, %d flagged",
		sum.Rows, sum.Cols, sum.Attempted, captured, flagged)
	log.Printf("stage restored to %s (restored=%v), source shutdown=%v",
		sum.RestoredTo, sum.Restored, sum.GunShutdown)
	if err != nil {
		log.Fatal(err)
	}
}

func serve() {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	drv := driver(c)
	rec := &imgrec.Recorder{Root: c.Root, Base: c.Montage.BaseFilename}

	lock := locker.New()
	runner := montagehttp.NewRunner(drv, rec, lock)
	wrapper := montagehttp.NewHTTPWrapper(runner)
	locker.Inject(wrapper, lock)

	stem := generichttp.SubMuxSanitize("/montage")
	r := chi.NewRouter()
	r.Use(lock.Check)
	wrapper.RT().Bind(r)

	rootMux := chi.NewRouter()
	rootMux.Use(middleware.Logger)
	rootMux.Mount(stem, r)
	supergraph := map[string][]string{stem: wrapper.RT().Endpoints()}
	rootMux.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(supergraph); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, rootMux))
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "serve":
		serve()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
