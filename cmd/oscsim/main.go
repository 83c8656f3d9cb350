package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	oscsim "github.com/VigneshVSV/oscilloscope-simulator"
	"github.com/VigneshVSV/oscilloscope-simulator/internal/scopedb"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err2 := os.MkdirAll(dir, 0775); err2 != nil {
			return "", err2
		}
	}

	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find
// config files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("Verbose", false)

	HOME, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotOscsim := filepath.Join(HOME, ".oscsim")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotOscsim, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/oscsim"))
	viper.AddConfigPath(dotOscsim)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Could not open log file '%s'", pfname))
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	oscsim.Build.Date = buildDate
	oscsim.Build.Githash = githash
	oscsim.Build.Summary = fmt.Sprintf("oscsim version %s (git commit %s)", oscsim.Build.Version, githash)
	if host, err := os.Hostname(); err == nil {
		oscsim.Build.Host = host
	} else {
		oscsim.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is oscsim version %s\n", oscsim.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is oscsim version %s (git commit %s)\n", oscsim.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Start logging problems and updates to 2 log files.
	HOME, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(HOME, ".oscsim", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	oscsim.ProblemLogger = startLogger(problemname)
	oscsim.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging client updates to %s\n\n", logname)
	oscsim.UpdateLogger.Printf("\n\n\n\n%s", banner)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(); err != nil {
		panic(err)
	}
	cfg, err := oscsim.LoadConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err) // Configuration errors are fatal
	}
	oscsim.SetPortnumbers(cfg.PortBase)
	oscsim.BindAddr = cfg.BindAddr

	registry, err := oscsim.NewRegistry(cfg.Channels)
	if err != nil {
		log.Fatalf("invalid channel defaults: %v", err)
	}
	codec, err := oscsim.CodecByName(cfg.Codec, cfg.ChannelNames())
	if err != nil {
		log.Fatalf("invalid codec: %v", err)
	}

	abort := make(chan struct{})
	defer close(abort)

	db := scopedb.DummyConnection()
	if cfg.UseDB {
		db = scopedb.StartConnection(&scopedb.ActivityMessage{
			ID:        ulid.Make().String(),
			Hostname:  oscsim.Build.Host,
			Githash:   githash,
			Version:   oscsim.Build.Version,
			GoVersion: runtime.Version(),
			CPUs:      runtime.NumCPU(),
			Start:     time.Now(),
		}, abort)
	}

	publisher := oscsim.NewPublisher(codec, oscsim.Ports.Frames)
	go func() {
		if err := publisher.Run(abort); err != nil {
			log.Fatalf("frame publisher failed: %v", err)
		}
	}()

	clientMessages := make(chan oscsim.ClientUpdate, 64)
	go func() {
		if err := oscsim.RunClientUpdater(clientMessages, oscsim.Ports.Status, abort); err != nil {
			log.Fatalf("client updater failed: %v", err)
		}
	}()

	loop, err := oscsim.NewAcquisitionLoop(registry, publisher, clientMessages,
		cfg.SampleCount, cfg.TimeRange, cfg.TickPeriod, cfg.Seed)
	if err != nil {
		log.Fatalf("invalid acquisition settings: %v", err)
	}

	var tlsConfig *tls.Config
	if cfg.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			log.Fatalf("could not load TLS key pair: %v", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	sc := oscsim.NewScopeControl(cfg, registry, loop, publisher, clientMessages, db)
	fmt.Printf("RPC port %d, status port %d, frames port %d, codec %s\n",
		oscsim.Ports.RPC, oscsim.Ports.Status, oscsim.Ports.Frames, codec.Name())
	if err := oscsim.RunRPCServer(sc, oscsim.Ports.RPC, tlsConfig, abort); err != nil {
		log.Fatalf("RPC server failed: %v", err)
	}
	writeMemoryProfile(memprofile)
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If `memprofile` points to an empty string, do not write.
func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}
	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
