// Command coveragegate fails CI when a coverage profile drops below the
// thresholds configured for the client's pure and I/O files.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

type coverage struct {
	covered int
	total   int
}

func (c coverage) percent() float64 {
	if c.total == 0 {
		return 0
	}
	return float64(c.covered) * 100.0 / float64(c.total)
}

// pureFiles hold logic with no I/O; they must stay fully covered.
var pureFiles = []string{
	"pubnub/sequence.go",
	"pubnub/endpoint_selector.go",
	"pubnub/reconnect_strategy.go",
	"pubnub/subscription_set.go",
	"pubnub/listener.go",
	"pubnub/errors.go",
	"pubnub/version.go",
	"pubnub/internal/crypto/crypto.go",
	"pubnub/internal/codec/codec.go",
}

// ioFiles talk to the network or run goroutines.
var ioFiles = []string{
	"pubnub/client.go",
	"pubnub/publish.go",
	"pubnub/subscription_loop.go",
	"pubnub/transport.go",
	"pubnub/requests.go",
	"pubnub/envelope.go",
	"internal/fakeserver/server.go",
	"internal/fakeserver/journal.go",
}

type gate struct {
	overall float64
	pure    float64
	io      float64
}

func parseProfile(reader io.Reader) (map[string]coverage, error) {
	result := map[string]coverage{}
	scanner := bufio.NewScanner(reader)
	for line := 0; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if line == 0 || text == "" {
			// mode: header
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 {
			continue
		}
		name, _, ok := strings.Cut(fields[0], ":")
		if !ok {
			continue
		}
		statements, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: statement count %q: %w", line+1, fields[1], err)
		}
		hits, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: hit count %q: %w", line+1, fields[2], err)
		}
		entry := result[name]
		entry.total += statements
		if hits > 0 {
			entry.covered += statements
		}
		result[name] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// lookup matches by path suffix so the module prefix does not matter.
func lookup(files map[string]coverage, suffix string) (coverage, bool) {
	for name, cov := range files {
		if strings.HasSuffix(name, "/"+suffix) || name == suffix {
			return cov, true
		}
	}
	return coverage{}, false
}

func evaluate(files map[string]coverage, limits gate) (coverage, []string) {
	var total coverage
	for _, cov := range files {
		total.covered += cov.covered
		total.total += cov.total
	}
	var failures []string
	if total.percent()+1e-9 < limits.overall {
		failures = append(failures, fmt.Sprintf("aggregate coverage %.1f%% is below %.1f%%", total.percent(), limits.overall))
	}
	check := func(kind string, names []string, minimum float64) {
		for _, name := range names {
			cov, ok := lookup(files, name)
			if !ok {
				failures = append(failures, fmt.Sprintf("%s file %s is missing from the profile", kind, name))
				continue
			}
			if cov.percent()+1e-9 < minimum {
				failures = append(failures, fmt.Sprintf("%s file %s is %.1f%% (required %.1f%%)", kind, name, cov.percent(), minimum))
			}
		}
	}
	check("pure", pureFiles, limits.pure)
	check("io", ioFiles, limits.io)
	sort.Strings(failures)
	return total, failures
}

func run(args []string, stdout io.Writer) int {
	flags := flag.NewFlagSet("coveragegate", flag.ContinueOnError)
	flags.SetOutput(stdout)
	profile := flags.String("profile", "coverage.out", "path to a go coverage profile")
	limits := gate{}
	flags.Float64Var(&limits.overall, "overall", 85.0, "minimum aggregate coverage percentage")
	flags.Float64Var(&limits.pure, "pure", 100.0, "minimum coverage for pure files")
	flags.Float64Var(&limits.io, "io", 75.0, "minimum coverage for io files")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	file, err := os.Open(*profile) // #nosec G304 -- operator supplied path
	if err != nil {
		fmt.Fprintf(stdout, "coverage gate: %v\n", err)
		return 1
	}
	defer file.Close()
	files, err := parseProfile(file)
	if err != nil {
		fmt.Fprintf(stdout, "coverage gate: read %s: %v\n", *profile, err)
		return 1
	}

	total, failures := evaluate(files, limits)
	fmt.Fprintf(stdout, "aggregate: %.1f%% (%d/%d)\n", total.percent(), total.covered, total.total)
	if len(failures) == 0 {
		fmt.Fprintln(stdout, "coverage gate: PASS")
		return 0
	}
	fmt.Fprintln(stdout, "coverage gate: FAIL")
	for _, failure := range failures {
		fmt.Fprintf(stdout, "- %s\n", failure)
	}
	return 2
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}
