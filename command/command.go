// Package command spawns the operator-configured jail and unjail commands.
package command

import (
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Runner executes a command template against an IP. Implementations report
// success (true) or failure (false); the jail registry skips its state
// mutation on failure so the next attempt retries.
type Runner interface {
	Run(template, ip string) bool
}

// Executor is the production Runner. It substitutes {ip} into the template,
// splits the result on whitespace into program and argv, spawns the child
// with inherited stdio and waits for it. Splitting is whitespace-only; there
// is no shell quoting, so arguments must not contain spaces.
type Executor struct {
	Simulate bool
	Log      *zap.SugaredLogger
}

// NewExecutor returns an Executor logging through log. With simulate set it
// only logs the commands it would have run.
func NewExecutor(log *zap.SugaredLogger, simulate bool) *Executor {
	return &Executor{Simulate: simulate, Log: log}
}

// Run executes the template for ip. Returns true iff the child exited with
// status 0 (or simulate is on).
func (e *Executor) Run(template, ip string) bool {
	parsed := strings.ReplaceAll(template, "{ip}", ip)

	program := parsed
	var args []string
	if idx := strings.IndexAny(parsed, " \t"); idx >= 0 {
		program = parsed[:idx]
		args = strings.Fields(parsed[idx:])
	}

	if e.Simulate {
		e.Log.Infof("Simulated command: %s with arguments %v", program, args)
		return true
	}

	cmd := exec.Command(program, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		e.Log.Errorf("Error executing command %s %v: %v", program, args, err)
		return false
	}
	return true
}
