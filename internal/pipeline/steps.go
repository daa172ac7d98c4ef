package pipeline

import "upgrader/internal/runner"

// Step names as reported in outcomes and metrics.
const (
	StepFetch        = "fetch"
	StepCheckout     = "checkout"
	StepDependencies = "dependencies"
	StepCache        = "cache"
)

// Step is one command of the ordered upgrade sequence.
type Step struct {
	Name    string
	Command runner.Command
	tool    bool // runs on the tool runner
}

// Plan returns the commands an upgrade to version would run, in order.
func (p *Pipeline) Plan(version string) []Step {
	deps := p.cfg.DepsInstall
	if len(deps) == 0 {
		deps = []string{p.cfg.PHPBinary, "composer.phar", "install", "--no-dev", "--prefer-dist", "-o", "--ignore-platform-reqs"}
	}
	cache := p.cfg.CacheClear
	if len(cache) == 0 {
		cache = []string{p.cfg.PHPBinary, "bin/leantime", "cache:clearAll"}
	}

	cmd := func(args ...string) runner.Command {
		return runner.Command{Args: args, Dir: p.cfg.Root, Timeout: p.cfg.CommandTimeout}
	}

	return []Step{
		{Name: StepFetch, Command: cmd("git", "fetch", "--tags", p.cfg.Remote)},
		{Name: StepCheckout, Command: cmd("git", "checkout", "--force", "tags/"+version)},
		{Name: StepDependencies, Command: cmd(deps...), tool: true},
		{Name: StepCache, Command: cmd(cache...), tool: true},
	}
}
