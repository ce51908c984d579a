package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/greendrake/hlsstream/cache"
	"github.com/greendrake/hlsstream/config"
	"github.com/greendrake/hlsstream/stream"
	"github.com/greendrake/hlsstream/supervisor"
	"github.com/greendrake/hlsstream/webcast"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "hlsstream",
	Short: "Synthetic rolling HLS feed with marker events",
	Long: `hlsstream renders a rolling checkerboard, encodes it to a live HLS
playlist with ffmpeg, and publishes marker events through a shared cache that
the HTTP server reads from. Without a subcommand it runs every process.`,
	SilenceUsage: true,
	RunE:         runAll,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the cache, stream and api processes and supervise them",
	RunE:  runAll,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Serve the marker cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if c.Cache.Backend != config.BackendNative {
			return fmt.Errorf("cache backend is %q, nothing to serve", c.Cache.Backend)
		}
		return cache.NewServer(c.CacheAddr(), c.Cache.Secret).ListenAndServe(cmd.Context())
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Generate, encode and publish markers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configFile)
		if err != nil {
			return err
		}
		mc, err := openCache(cmd.Context(), c, supervisor.Stream)
		if err != nil {
			return err
		}
		defer mc.Close()
		if c.Stream.MetricsAddr == "" {
			return stream.Run(cmd.Context(), c, mc)
		}
		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			return webcast.ServeMetrics(ctx, c.Stream.MetricsAddr)
		})
		g.Go(func() error {
			err := stream.Run(ctx, c, mc)
			if err == nil {
				// stop the metrics listener too
				err = context.Canceled
			}
			return err
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve video, markers and the static site over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configFile)
		if err != nil {
			return err
		}
		mc, err := openCache(cmd.Context(), c, supervisor.API)
		if err != nil {
			return err
		}
		defer mc.Close()
		s := &webcast.Server{
			Addr:         c.Web.Address,
			VideoDir:     c.Web.VideoDir,
			StaticDir:    c.Web.StaticDir,
			PushInterval: c.Web.PushInterval,
			Cache:        mc,
		}
		return s.Run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultFile, "path to the YAML configuration")
	rootCmd.AddCommand(runCmd, syncCmd, streamCmd, apiCmd)
}

func openCache(ctx context.Context, c *config.Config, name string) (cache.Cache, error) {
	if c.Cache.Backend == config.BackendRedis {
		return cache.NewRedisCache(ctx, c.CacheAddr(), c.Cache.Secret)
	}
	return cache.Dial(ctx, c.CacheAddr(), c.Cache.Secret, name)
}

func runAll(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	path, err := filepath.Abs(configFile)
	if err != nil {
		return err
	}
	s := supervisor.New(cmd.Context(), c, exe, path)
	s.Wait()
	if cause := s.Cause(); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

func GetWorkDir() string {
	ex, err := os.Executable()
	if err != nil {
		panic(err)
	}
	dir := filepath.Dir(ex)
	// Helpful when developing:
	// when running `go run`, the executable is in a temporary directory.
	if strings.Contains(dir, "go-build") {
		return "."
	}
	return filepath.Dir(ex)
}

func main() {
	// Log to STDOUT in the standard manner
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.LUTC)

	err := os.Chdir(GetWorkDir())
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Fatal(err)
	}
	log.Println("All finished")
}
