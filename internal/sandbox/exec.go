package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/strata-build/strata/internal/buildererr"
	"github.com/strata-build/strata/internal/logging"
)

var log = logging.New("sandbox")

// InitArg is the sentinel argv[1] that tells a re-exec'd strata process
// to run Init (the middle+inner layer) instead of the normal CLI, the
// same trick container runtimes use to run setup code inside a freshly
// unshared namespace without a second binary. cmd/strata's main checks
// for this before doing any cobra/flag parsing.
const InitArg = "__strata_sandbox_init__"

const specEnvVar = "STRATA_SANDBOX_SPEC"

// Run executes cfg's command inside a freshly unshared mount namespace
// (and, if requested, network namespace), logging the full containerised
// argv and the command's combined output to logPath, preceded by a
// "# # <command>" header line (spec.md §4.5 "Logging"). A non-zero exit
// is reported as *buildererr.BuildFailed.
func Run(cfg RunConfig, component, rawCommand, logPath string) error {
	specJSON, err := json.Marshal(cfg)
	if err != nil {
		return &buildererr.SandboxError{Component: component, Op: "encode-spec", Err: err}
	}

	self, err := os.Executable()
	if err != nil {
		return &buildererr.SandboxError{Component: component, Op: "resolve-self", Err: err}
	}

	cmd := exec.Command(self, InitArg)
	cmd.Env = append(os.Environ(), specEnvVar+"="+base64.StdEncoding.EncodeToString(specJSON))
	cmd.SysProcAttr = unshareAttr(cfg.UnshareNet)

	logf, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &buildererr.SandboxError{Component: component, Op: "open-log", Err: err}
	}
	defer logf.Close()

	fmt.Fprintf(logf, "# # %s\n", rawCommand)
	fmt.Fprintf(logf, "%s\n", strings.Join(renderedArgv(cfg), " "))

	cmd.Stdout = logf
	cmd.Stderr = logf

	log.Debugf("running %s in %s", rawCommand, cfg.Cwd)

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		fmt.Fprintf(logf, "ERROR: command failed after %s\n", elapsed)
		fmt.Fprintf(logf, "ERROR: in directory %s\n", cfg.Cwd)
		fmt.Fprintf(logf, "ERROR: command failed:\n\n%s\n", rawCommand)
		return &buildererr.BuildFailed{Component: component, Command: rawCommand, Dir: cfg.Cwd, Err: err}
	}
	return nil
}

// renderedArgv is a human-readable rendering of the full containerised
// command, for the build-log header (spec.md §4.5 "Logging": "the full
// containerised argv").
func renderedArgv(cfg RunConfig) []string {
	var parts []string
	if cfg.UseChroot {
		parts = append(parts, "chroot", cfg.Root)
	}
	if cfg.UnshareNet {
		parts = append(parts, "--unshare-net")
	}
	for _, b := range cfg.Binds {
		parts = append(parts, "--mount-bind", b.Source, b.Dest)
	}
	if cfg.MountProc {
		parts = append(parts, "--mount-proc", "proc")
	}
	parts = append(parts, cfg.Argv...)
	return parts
}
