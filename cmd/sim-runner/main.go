package main

import (
	"fmt"
	logger "log"
	"math/rand"
	"os"
	"time"

	"github.com/OpenTransitTools/taxisim/business/data/geo"
	"github.com/OpenTransitTools/taxisim/business/data/requestfile"
	"github.com/OpenTransitTools/taxisim/business/sim"
	"github.com/ardanlabs/conf"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "SIM_RUNNER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args conf.Args
		Sim  struct {
			NumTaxis    int    `conf:"default:3600"`
			InitialSize int    `conf:"default:4"`
			MaxTaxiSize int    `conf:"default:16"`
			Ridesharing bool   `conf:"default:true"`
			Seed        int64  `conf:"default:1"`
			RequestFile string `conf:"default:requests.json"`
			Day         int    `conf:"default:1"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Run a single simulated day of the taxi fleet and report its metrics"
	const prefix = "SIM_RUNNER"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	requests, err := requestfile.Load(cfg.Sim.RequestFile)
	if err != nil {
		return fmt.Errorf("loading request file %s: %w", cfg.Sim.RequestFile, err)
	}

	manhattan := geo.NewManhattan(requestfile.DefaultZoneWeights(), geo.DefaultManhattanBoundingBox)
	rng := rand.New(rand.NewSource(cfg.Sim.Seed))

	params := sim.DefaultParams()
	params.MaxSize = cfg.Sim.MaxTaxiSize

	world := sim.NewWorld(params, manhattan, cfg.Sim.Ridesharing, log, rng)
	world.Time = time.Date(2016, 2, cfg.Sim.Day, 8, 0, 0, 0, time.UTC)
	world.AddTaxis(sim.MakeTaxis(cfg.Sim.NumTaxis, cfg.Sim.InitialSize, cfg.Sim.MaxTaxiSize, manhattan, rng))
	world.AddRequests(requests)

	log.Printf("main: running day 2016-02-%02d with %d taxis, %d requests",
		cfg.Sim.Day, cfg.Sim.NumTaxis, len(requests))
	world.Run()

	log.Printf("main: requests=%d timeouts=%d (%.2f%%) dropoffs=%d mean_wait=%.2fm",
		world.NumRequests, world.NumTimeouts, world.TimeoutPercent(), world.NumDropoffs, world.MeanWaitTime())
	return nil
}
