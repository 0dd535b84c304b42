package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	authcache "github.com/authcache/authcache"
	"github.com/authcache/authcache/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	endpointFlag       string
	portFlag           int
	providerFlag       string
	dbFilenameFlag     string
	verbosityTraceFlag bool
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&endpointFlag, "endpoint", "", "Remote authorization endpoint URL (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&providerFlag, "provider", "lru", "Decision cache provider to use (lru, memory or sqlite)")
	flag.StringVar(&dbFilenameFlag, "db", "decisions.db", "Cache DB file name for the sqlite provider")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

// checkRequest is the inbound body of POST /check.
// It mirrors the outbound wire format of the authority.
type checkRequest struct {
	Access     string `json:"access"`
	Username   string `json:"username"`
	InternalID string `json:"patient-id"`
	ExternalID string `json:"patient-eid"`
}

type checkResponse struct {
	Decision string `json:"decision"`
}

func main() {
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	endpoint := endpointFlag
	defaultTTL := authcache.DefaultTTL
	maxEntries := authcache.DefaultMaxEntries
	timeout := 10 * time.Second
	provider := providerFlag
	dbFilename := dbFilenameFlag

	if configFilenameFlag != "" {
		config, err := authcache.GetConfig(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not read config file")
		}
		if endpoint == "" {
			endpoint = config.Endpoint
		}
		if config.DefaultTTLSeconds > 0 {
			defaultTTL = time.Duration(config.DefaultTTLSeconds) * time.Second
		}
		if config.MaxEntries > 0 {
			maxEntries = config.MaxEntries
		}
		if config.TimeoutSeconds > 0 {
			timeout = time.Duration(config.TimeoutSeconds) * time.Second
		}
		if config.Provider != "" && providerFlag == "lru" {
			provider = config.Provider
		}
		if config.DB != "" {
			dbFilename = config.DB
		}
	}

	var decisionCache cache.Provider
	var err error
	switch provider {
	case "lru":
		decisionCache, err = cache.NewLRUCache(maxEntries, defaultTTL)
	case "memory":
		decisionCache = cache.NewMemCache(defaultTTL)
	case "sqlite":
		decisionCache, err = cache.NewSQLiteCache(dbFilename, defaultTTL)
	default:
		log.Fatal().Msgf("Unsupported cache provider: %s", provider)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create authorization cache")
	}

	checker, err := authcache.New(authcache.Config{
		Endpoint: endpoint,
		Cache:    decisionCache,
		Timeout:  timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not initialize authorization checker")
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("Request handled")
	}))

	r.Post("/check", func(w http.ResponseWriter, r *http.Request) {
		var req checkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		decision := checker.HasAccess(r.Context(), req.Username, req.Access, authcache.Resource{
			InternalID: req.InternalID,
			ExternalID: req.ExternalID,
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(checkResponse{Decision: decision.String()})
	})

	log.Info().Int("port", portFlag).Str("endpoint", endpoint).Msg("Starting authorization cache service")
	if err := http.ListenAndServe(fmt.Sprintf(":%d", portFlag), r); err != nil {
		log.Fatal().Err(err).Msg("Server exited")
	}
}
