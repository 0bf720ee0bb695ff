package main

import (
	"context"
	"encoding/json"
	"fmt"
	logger "log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/OpenTransitTools/taxisim/business/data/fleetstore"
	"github.com/OpenTransitTools/taxisim/business/data/geo"
	"github.com/OpenTransitTools/taxisim/business/data/requestfile"
	"github.com/OpenTransitTools/taxisim/business/sim"
	"github.com/OpenTransitTools/taxisim/business/sim/trainer"
	"github.com/OpenTransitTools/taxisim/foundation/database"
	"github.com/OpenTransitTools/taxisim/foundation/httpclient"
	"github.com/ardanlabs/conf"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "SIM_TRAINER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,noprint"`
			Host       string `conf:"default:0.0.0.0"`
			Name       string `conf:"default:postgres"`
			DisableTLS bool   `conf:"default:true"`
		}
		NATS struct {
			URL string `conf:"default:localhost"`
		}
		Sim struct {
			NumTaxis        int    `conf:"default:3600"`
			InitialSize     int    `conf:"default:4"`
			MaxTaxiSize     int    `conf:"default:16"`
			Ridesharing     bool   `conf:"default:true"`
			Seed            int64  `conf:"default:1"`
			MaxRuns         int    `conf:"default:2000"`
			EpisodeSubject  string `conf:"default:taxisim-episode-completed"`
			HaltSubject     string `conf:"default:taxisim-halt"`
			RequestsDir     string `conf:"default:data/requests"`
			RequestsBaseURL string `conf:"default:"`
			HTTPPort        int    `conf:"default:4000"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Runs the multi-day Q-learning training loop, resumable across restarts"
	const prefix = "SIM_TRAINER"
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

	log.Println("main: Initializing database support")
	db, err := database.Open(database.Config{
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Name:       cfg.DB.Name,
		DisableTLS: cfg.DB.DisableTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		if err := db.Close(); err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	log.Printf("main: Connecting to NATS\n")
	natsConn, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("unable to establish connection to nats server: %w", err)
	}
	defer func() {
		log.Printf("main: closing connection to NATS")
		natsConn.Close()
	}()

	requestsByDay, err := loadOrFetchRequests(log, cfg.Sim.RequestsDir, cfg.Sim.RequestsBaseURL)
	if err != nil {
		return fmt.Errorf("preparing request files: %w", err)
	}

	manhattan := geo.NewManhattan(requestfile.DefaultZoneWeights(), geo.DefaultManhattanBoundingBox)
	rng := rand.New(rand.NewSource(cfg.Sim.Seed))
	params := sim.DefaultParams()
	params.MaxSize = cfg.Sim.MaxTaxiSize

	trainerConf := trainer.Conf{
		MaxRuns:        cfg.Sim.MaxRuns,
		NumTaxis:       cfg.Sim.NumTaxis,
		InitialSize:    cfg.Sim.InitialSize,
		MaxTaxiSize:    cfg.Sim.MaxTaxiSize,
		Ridesharing:    cfg.Sim.Ridesharing,
		EpisodeSubject: cfg.Sim.EpisodeSubject,
	}
	tr := trainer.NewTrainer(log, db, natsConn, manhattan, params, trainerConf, rng)

	runCount, err := fleetstore.GetRunCount(db)
	if err != nil {
		return fmt.Errorf("checking existing run count: %w", err)
	}
	if runCount == 0 {
		log.Println("main: no prior training found, initializing run 0")
		if err := tr.Init(); err != nil {
			return fmt.Errorf("initializing training: %w", err)
		}
	}

	wg := sync.WaitGroup{}
	halt := make(chan bool, 1)

	log.Printf("main: subscribing to halt subject %q", cfg.Sim.HaltSubject)
	haltSub, err := natsConn.Subscribe(cfg.Sim.HaltSubject, func(*nats.Msg) {
		select {
		case halt <- true:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to halt subject: %w", err)
	}
	defer func() {
		_ = haltSub.Unsubscribe()
	}()

	wg.Add(1)
	var trainErr error
	go func() {
		defer wg.Done()
		trainErr = tr.Run(requestsByDay, halt)
	}()

	httpShutdown := make(chan os.Signal, 1)
	signal.Notify(httpShutdown, os.Interrupt, syscall.SIGTERM)

	srv := createServer(log, tr, halt, cfg.Sim.HTTPPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("main: http server ended: %v", err)
		}
	}()

	<-httpShutdown
	log.Println("main: shutdown signal received")
	select {
	case halt <- true:
	default:
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("main: error shutting down http server: %v", err)
	}

	return trainErr
}

// loadOrFetchRequests ensures a request file exists locally for every day
// 1..29, downloading it from baseURL first if it is missing and baseURL is
// set, then loads all 29 files into memory.
func loadOrFetchRequests(log *logger.Logger, dir, baseURL string) (map[int][]sim.Request, error) {
	requestsByDay := make(map[int][]sim.Request, 29)
	for day := 1; day <= 29; day++ {
		filename := fmt.Sprintf("2016-02-%02d.json", day)
		localPath := filepath.Join(dir, filename)

		if _, err := os.Stat(localPath); os.IsNotExist(err) {
			if baseURL == "" {
				return nil, fmt.Errorf("missing request file %s and no RequestsBaseURL configured to fetch it", localPath)
			}
			remoteURL := baseURL + "/" + filename
			log.Printf("main: fetching missing request file %s from %s", localPath, remoteURL)
			if _, err := httpclient.DownloadRemoteFile(localPath, remoteURL); err != nil {
				return nil, fmt.Errorf("downloading %s: %w", remoteURL, err)
			}
		}

		requests, err := requestfile.Load(localPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", localPath, err)
		}
		requestsByDay[day] = requests
	}
	return requestsByDay, nil
}

// statusHandler serves the trainer's current progress as JSON. A "run" query
// parameter looks up an arbitrary past run's log instead of the live status.
type statusHandler struct {
	tr *trainer.Trainer
}

func (h *statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if runParam := r.FormValue("run"); runParam != "" {
		runNum, err := strconv.Atoi(runParam)
		if err != nil {
			http.Error(w, "run must be an integer", http.StatusBadRequest)
			return
		}
		runLog, err := h.tr.RunLog(runNum)
		if err != nil {
			http.Error(w, "error fetching run log", http.StatusNotFound)
			return
		}
		if err := json.NewEncoder(w).Encode(runLog); err != nil {
			http.Error(w, "error encoding run log", http.StatusInternalServerError)
		}
		return
	}
	if err := json.NewEncoder(w).Encode(h.tr.Status()); err != nil {
		http.Error(w, "error encoding status", http.StatusInternalServerError)
	}
}

// metricsHandler serves the trainer's last completed episode's metrics as
// plain text lines, for quick operator polling without a JSON parser.
type metricsHandler struct {
	tr *trainer.Trainer
}

func (h *metricsHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := h.tr.Status()
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "run_num %d\n", status.RunNum)
	fmt.Fprintf(w, "max_runs %d\n", status.MaxRuns)
	fmt.Fprintf(w, "day %d\n", status.Last.Day)
	fmt.Fprintf(w, "requests %d\n", status.Last.Requests)
	fmt.Fprintf(w, "timeouts %d\n", status.Last.Timeouts)
	fmt.Fprintf(w, "timeout_percent %.4f\n", status.Last.TimeoutPercent)
	fmt.Fprintf(w, "mean_dispatch %.4f\n", status.Last.MeanDispatch)
	fmt.Fprintf(w, "mean_pickup %.4f\n", status.Last.MeanPickup)
	fmt.Fprintf(w, "mean_wait %.4f\n", status.Last.MeanWait)

	sizes, err := status.Last.SizeHistogram()
	if err != nil {
		fmt.Fprintf(w, "# error decoding size histogram: %v\n", err)
		return
	}
	for size, count := range sizes {
		fmt.Fprintf(w, "fleet_size{size=%d} %d\n", size, count)
	}
}

// haltHandler accepts a POST to request a cooperative halt at the next run
// boundary.
type haltHandler struct {
	log  *logger.Logger
	halt chan bool
}

func (h *haltHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "halt requires POST", http.StatusMethodNotAllowed)
		return
	}
	h.log.Println("main: halt requested over http")
	select {
	case h.halt <- true:
	default:
	}
	w.Header().Add("Application-Status", "halting")
}

func createServer(log *logger.Logger, tr *trainer.Trainer, halt chan bool, httpPort int) *http.Server {
	r := mux.NewRouter()
	r.Handle("/status", &statusHandler{tr: tr})
	r.Handle("/metrics", &metricsHandler{tr: tr})
	r.Handle("/halt", &haltHandler{log: log, halt: halt})

	return &http.Server{
		Addr:         "0.0.0.0:" + strconv.Itoa(httpPort),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
		Handler:      r,
	}
}
