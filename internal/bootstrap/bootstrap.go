// Package bootstrap assembles the upgrade pipeline from environment
// configuration for the service and the CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"upgrader/internal/config"
	"upgrader/internal/lease"
	"upgrader/internal/pipeline"
	"upgrader/internal/runner"
	"upgrader/internal/runner/docker"
	"upgrader/internal/vcs"
)

// Options selects how the pipeline is built.
type Options struct {
	DeployRoot      string
	ToolRunner      string // "local" or "docker"
	VersionCacheTTL time.Duration
	Observer        pipeline.Observer // Optional
}

// Stack is an assembled pipeline with the resources it owns.
type Stack struct {
	Git      *vcs.Git
	Source   *vcs.Cached
	Lease    lease.Backend
	Docker   *docker.Runner // nil unless the docker tool runner is selected
	Pipeline *pipeline.Pipeline
	Config   pipeline.Config
}

// Open builds the pipeline for opts.DeployRoot. Lease and pipeline settings
// come from the environment.
func Open(ctx context.Context, opts Options) (*Stack, error) {
	pipeCfg := pipeline.LoadConfigFromEnv(opts.DeployRoot)
	leaseCfg := lease.LoadConfigFromEnv(opts.DeployRoot)
	leaseCfg.Name = pipeCfg.LeaseName

	backend, err := lease.Open(ctx, leaseCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s lease: %w", leaseCfg.Backend, err)
	}
	slog.Info("Upgrade lease ready", "backend", leaseCfg.Backend, "name", leaseCfg.Name)

	local := runner.NewExec(pipeCfg.CommandTimeout)
	git := vcs.NewGit(local, opts.DeployRoot)
	source := vcs.NewCached(git, opts.VersionCacheTTL)

	s := &Stack{
		Git:    git,
		Source: source,
		Lease:  backend,
	}

	pipeOpts := []pipeline.Option{}
	if opts.Observer != nil {
		pipeOpts = append(pipeOpts, pipeline.WithObserver(opts.Observer))
	}

	switch opts.ToolRunner {
	case "", "local":
	case "docker":
		dockerCfg := docker.LoadConfigFromEnv(opts.DeployRoot)
		if dockerCfg.Timeout <= 0 {
			dockerCfg.Timeout = pipeCfg.CommandTimeout
		}
		s.Docker, err = docker.NewRunner(dockerCfg)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("create container runner: %w", err)
		}
		// The host's PHP layout means nothing inside the tool image.
		pipeCfg.PHPBinary = config.GetEnv("PHP_BINARY", "php")
		pipeOpts = append(pipeOpts, pipeline.WithToolRunner(s.Docker))
		slog.Info("Dependency and cache steps run in containers", "image", dockerCfg.Image)
	default:
		backend.Close()
		return nil, fmt.Errorf("unknown tool runner %q", opts.ToolRunner)
	}

	s.Config = pipeCfg
	s.Pipeline = pipeline.New(source, backend, local, pipeCfg, pipeOpts...)
	return s, nil
}

// Close releases the lease backend and the docker client.
func (s *Stack) Close() error {
	var errs []error
	if s.Docker != nil {
		errs = append(errs, s.Docker.Close())
	}
	errs = append(errs, s.Lease.Close())
	return errors.Join(errs...)
}
