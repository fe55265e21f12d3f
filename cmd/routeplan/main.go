// Command routeplan plans a route for a stop file and prints the result as JSON.
//
// The input is a YAML or JSON document with the shape of a planning request:
//
//	depot: {lat: 52.3676, lon: 4.9041}
//	stops:
//	  - id: a
//	    coordinate: {lat: 52.3702, lon: 4.8952}
//	options:
//	  two_opt: true
//
// Without an OpenRouteService key distances are straight-line estimates.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/routewise/routewise/internal/distance"
	"github.com/routewise/routewise/internal/distance/openrouteservice"
	"github.com/routewise/routewise/internal/planner"
)

// Options are the command line flags.
type Options struct {
	Input   string        `short:"i" long:"input"   env:"ROUTEPLAN_INPUT"   description:"Stop file, - reads stdin" default:"-"`
	Mode    string        `short:"m" long:"mode"    description:"Travel mode" choice:"driving" choice:"cycling" choice:"walking" default:"driving"`
	TwoOpt  bool          `short:"2" long:"two-opt" description:"Improve the route with 2-opt"`
	Lazy    bool          `short:"L" long:"lazy"    description:"Resolve distances on demand"`
	Return  bool          `short:"r" long:"return"  description:"Count the leg back to the depot"`
	Timeout time.Duration `short:"t" long:"timeout" env:"ROUTEPLAN_TIMEOUT" description:"Planning timeout" default:"2m"`

	Concurrency int `short:"p" long:"concurrency" env:"ROUTEPLAN_CONCURRENCY" description:"Parallel distance lookups" default:"8"`

	ORSKey string `long:"ors-key" env:"ORS_API_KEY"  description:"OpenRouteService API key"`
	ORSURL string `long:"ors-url" env:"ORS_BASE_URL" description:"OpenRouteService base URL"`

	Compact  bool   `short:"c" long:"compact"   description:"Print JSON on a single line"`
	LogLevel string `short:"v" long:"log-level" env:"LOG_LEVEL" description:"Log level" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"warn"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if err := run(context.Background(), opts, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error().Err(err).Msg("planning failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts Options, stdin io.Reader, stdout io.Writer, logger zerolog.Logger) error {
	req, err := readRequest(opts.Input, stdin)
	if err != nil {
		return err
	}
	if opts.TwoOpt {
		req.Options.TwoOpt = true
	}
	if opts.Lazy {
		req.Options.LazyMatrix = true
	}
	if opts.Return {
		req.Options.ReturnToDepot = true
	}

	p := planner.New(planner.Config{
		Service:     newDistanceService(opts, logger),
		Mode:        distance.Mode(opts.Mode),
		Concurrency: opts.Concurrency,
		Logger:      logger,
	})

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	result, err := p.Plan(ctx, *req)
	if err != nil {
		return fmt.Errorf("planning %s: %w", opts.Input, err)
	}

	logger.Info().
		Str("status", string(result.Status)).
		Int("visited", len(result.Route.Visits)).
		Float64("total_meters", result.Route.TotalMeters).
		Int("lookups", result.Stats.Lookups).
		Msg("route planned")

	enc := json.NewEncoder(stdout)
	if !opts.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}

// readRequest decodes the stop file. JSON input parses as YAML. A stop
// without a latitude or longitude is a *planner.ValidationError.
func readRequest(path string, stdin io.Reader) (*planner.Request, error) {
	var r io.Reader = stdin
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening stop file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var in planner.RequestInput
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("stop file is empty")
		}
		return nil, fmt.Errorf("parsing stop file: %w", err)
	}

	req, err := in.Request()
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func newDistanceService(opts Options, logger zerolog.Logger) distance.Service {
	if opts.ORSKey == "" {
		return distance.NewHaversineService()
	}
	client := openrouteservice.NewClient(openrouteservice.ClientConfig{
		APIKey:  opts.ORSKey,
		BaseURL: opts.ORSURL,
		Logger:  logger,
	})
	return distance.NewFallback(distance.FallbackConfig{Primary: client, Logger: logger})
}
